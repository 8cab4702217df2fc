package expect

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Expect when no match is found before the
	// deadline. The session stays usable and keeps its buffer.
	ErrTimeout = errors.New("timeout while waiting for expect")

	// ErrEOF is returned by Expect when the transport reports end of
	// stream and the needle does not match the remaining buffer.
	ErrEOF = errors.New("end of stream before match")
)

// TransportError wraps a failure of the underlying transport.
type TransportError struct {
	// Op is the transport operation that failed: "read", "write" or "flush".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnknownControlCodeError is returned by SendControl and ControlCode for a
// character that has no Ctrl+<char> control byte.
type UnknownControlCodeError struct {
	Char rune
}

func (e *UnknownControlCodeError) Error() string {
	return fmt.Sprintf("unknown control code Ctrl+%c", e.Char)
}
