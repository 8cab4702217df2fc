package expect

// ControlCode translates c into the byte a terminal sends for Ctrl+c:
// 'a'..'z' and 'A'..'Z' give 1..26, and '[', '\\', ']', '^', '_' give 27..31.
func ControlCode(c rune) (byte, error) {
	switch {
	case c >= 'a' && c <= 'z':
		return byte(c-'a') + 1, nil
	case c >= 'A' && c <= 'Z':
		return byte(c-'A') + 1, nil
	}
	switch c {
	case '[':
		return 27, nil
	case '\\':
		return 28, nil
	case ']':
		return 29, nil
	case '^':
		return 30, nil
	case '_':
		return 31, nil
	}
	return 0, &UnknownControlCodeError{Char: c}
}
