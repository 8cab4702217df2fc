package expect

import (
	"fmt"
	"regexp"
	"strings"
)

type needleKind int

const (
	kindLiteral needleKind = iota
	kindRegexp
	kindEOF
	kindBytes
	kindAny
)

// Needle describes what Expect waits for in a session's output.
//
// A Needle is an immutable value built once by one of the constructors
// (Literal, Regexp, Compile, EOF, Bytes, Any) and reused across calls.
// Regular expressions are compiled at construction and never again.
type Needle struct {
	kind    needleKind
	literal []rune
	re      *regexp.Regexp
	n       int
	members []Needle
}

// Literal matches the first occurrence of s. An empty literal matches
// immediately at offset 0.
func Literal(s string) Needle {
	return Needle{kind: kindLiteral, literal: []rune(s)}
}

// Regexp matches the leftmost match of re against the whole buffer.
// No anchoring is implied beyond what the expression itself specifies.
func Regexp(re *regexp.Regexp) Needle {
	return Needle{kind: kindRegexp, re: re}
}

// Compile compiles expr and returns a Regexp needle.
func Compile(expr string) (Needle, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Needle{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Regexp(re), nil
}

// MustCompile is like Compile but panics if expr cannot be parsed.
func MustCompile(expr string) Needle {
	return Regexp(regexp.MustCompile(expr))
}

// EOF matches the whole remaining buffer once the stream has ended,
// and never before.
func EOF() Needle {
	return Needle{kind: kindEOF}
}

// Bytes matches the first n characters once at least n are buffered.
// After the stream has ended a shorter, non-empty remainder is accepted.
func Bytes(n int) Needle {
	if n < 0 {
		n = 0
	}
	return Needle{kind: kindBytes, n: n}
}

// Any matches the leftmost match among its members, preferring the
// shortest one when several start at the same offset.
func Any(members ...Needle) Needle {
	m := make([]Needle, len(members))
	copy(m, members)
	return Needle{kind: kindAny, members: m}
}

// String returns a human-readable description used in errors and logs.
func (n Needle) String() string {
	switch n.kind {
	case kindLiteral:
		switch s := string(n.literal); s {
		case "\n":
			return `\n (newline)`
		case "\r":
			return `\r (carriage return)`
		default:
			return fmt.Sprintf("%q", s)
		}
	case kindRegexp:
		if n.re == nil {
			return "regexp <nil>"
		}
		return fmt.Sprintf("regexp %q", n.re.String())
	case kindEOF:
		return "EOF (end of stream)"
	case kindBytes:
		return fmt.Sprintf("reading %d bytes", n.n)
	case kindAny:
		descs := make([]string, len(n.members))
		for i, m := range n.members {
			descs[i] = m.String()
		}
		return strings.Join(descs, ", ")
	}
	return "unknown needle"
}
