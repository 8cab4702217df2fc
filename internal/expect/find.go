package expect

import "unicode/utf8"

// Find returns the span [start, end) of the earliest match of n in buf,
// in character offsets. eof reports whether the stream has ended; only
// EOF and Bytes needles look at it.
//
// Find is pure: it neither reads nor modifies buf.
func Find(n Needle, buf []rune, eof bool) (start, end int, ok bool) {
	switch n.kind {
	case kindLiteral:
		pos := indexRunes(buf, n.literal)
		if pos < 0 {
			return 0, 0, false
		}
		return pos, pos + len(n.literal), true

	case kindRegexp:
		if n.re == nil {
			return 0, 0, false
		}
		s := string(buf)
		loc := n.re.FindStringIndex(s)
		if loc == nil {
			return 0, 0, false
		}
		start = utf8.RuneCountInString(s[:loc[0]])
		end = start + utf8.RuneCountInString(s[loc[0]:loc[1]])
		return start, end, true

	case kindEOF:
		if eof {
			return 0, len(buf), true
		}
		return 0, 0, false

	case kindBytes:
		if n.n <= len(buf) {
			return 0, n.n, true
		}
		// Short-read acceptance: keep the final partial chunk.
		if eof && len(buf) > 0 {
			return 0, len(buf), true
		}
		return 0, 0, false

	case kindAny:
		for _, m := range n.members {
			s, e, found := Find(m, buf, eof)
			if !found {
				continue
			}
			if !ok || s < start || (s == start && e < end) {
				start, end, ok = s, e, true
			}
		}
		return start, end, ok
	}
	return 0, 0, false
}

// indexRunes returns the index of the first instance of sub in s, or -1.
func indexRunes(s, sub []rune) int {
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i] != sub[0] {
			continue
		}
		j := 1
		for j < len(sub) && s[i+j] == sub[j] {
			j++
		}
		if j == len(sub) {
			return i
		}
	}
	return -1
}
