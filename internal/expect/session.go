// Package expect scripts interactive programs: it sends bytes to a duplex
// stream and waits, within a bounded time, until expected text appears in
// the stream's output.
//
// The package has two halves. Find is a pure matcher over an accumulated
// text buffer and a Needle (literal, regexp, end of stream, byte count or
// an alternation of those). Session owns a Transport and a buffer of
// decoded output and runs the read, decode, append and match loop.
//
//	sess := expect.New(t, expect.WithTimeout(5*time.Second))
//	if err := sess.SendLine("echo hello"); err != nil {
//		return err
//	}
//	before, matched, err := sess.Expect(ctx, expect.Literal("hello"))
//
// A Session is not safe for concurrent use. Calls must be serialized by
// the caller.
package expect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"
)

// Session drives a Transport: it writes input and collects output until a
// Needle matches.
type Session struct {
	t    Transport
	opts options

	// buf holds decoded output not yet returned by a match.
	buf []rune
	// partial holds the trailing bytes of an incomplete UTF-8 sequence.
	partial []byte

	// pending is the in-flight read, if any. A read abandoned by a timed
	// out Expect is picked up by the next call.
	pending chan readResult
	eof     bool
}

type readResult struct {
	data []byte
	err  error
}

// New creates a Session that takes exclusive ownership of t.
// Closing t remains the caller's responsibility.
func New(t Transport, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Session{t: t, opts: o}
}

// Timeout returns the bound applied to each Expect call (0 means none).
func (s *Session) Timeout() time.Duration {
	return s.opts.timeout
}

// Buffer returns the output read but not yet consumed by a match.
func (s *Session) Buffer() string {
	return string(s.buf)
}

// Send writes text to the transport as is.
func (s *Session) Send(text string) error {
	return s.SendContext(context.Background(), text)
}

// SendContext is like Send. ctx is passed to the observer, so write
// metrics carry the caller's span; the write itself is not interruptible.
func (s *Session) SendContext(ctx context.Context, text string) error {
	return s.write(ctx, []byte(text))
}

// SendLine writes text followed by a newline.
func (s *Session) SendLine(text string) error {
	return s.Send(text + "\n")
}

// Flush forces the transport to deliver buffered writes.
func (s *Session) Flush() error {
	if err := s.t.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}
	return nil
}

// SendControl writes the control byte for Ctrl+c and flushes, since
// terminal transports are commonly line buffered. An unknown c fails
// before anything is written.
func (s *Session) SendControl(c rune) error {
	return s.SendControlContext(context.Background(), c)
}

// SendControlContext is like SendControl, reporting to the observer with ctx.
func (s *Session) SendControlContext(ctx context.Context, c rune) error {
	code, err := ControlCode(c)
	if err != nil {
		return err
	}
	if err := s.write(ctx, []byte{code}); err != nil {
		return err
	}
	return s.Flush()
}

func (s *Session) write(ctx context.Context, p []byte) error {
	if _, err := s.t.Write(p); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	s.opts.observer.BytesWritten(ctx, len(p))
	return nil
}

// ExpectString waits for the literal text str.
func (s *Session) ExpectString(ctx context.Context, str string) (before, matched string, err error) {
	return s.Expect(ctx, Literal(str))
}

// ExpectRegexp compiles expr and waits for it. Prefer building the Needle
// once with Compile when the same pattern is awaited repeatedly.
func (s *Session) ExpectRegexp(ctx context.Context, expr string) (before, matched string, err error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", "", fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return s.Expect(ctx, Regexp(re))
}

// Expect reads from the transport until n matches the buffer, then removes
// and returns the text before the match and the match itself. Whatever
// follows the match stays buffered for the next call.
//
// The configured timeout covers the whole call. When it, or any deadline
// on ctx, expires first, Expect returns an error wrapping ErrTimeout and
// the buffer is kept intact. Cancellation of ctx returns ctx.Err().
// Once the transport reports io.EOF, n is matched with end of stream set
// and, failing that, Expect returns an error wrapping ErrEOF.
func (s *Session) Expect(ctx context.Context, n Needle) (before, matched string, err error) {
	start := time.Now()
	before, matched, err = s.expect(ctx, n)

	outcome := OutcomeMatched
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		outcome = OutcomeTimeout
	case errors.Is(err, ErrEOF):
		outcome = OutcomeEOF
	case errors.Is(err, context.Canceled):
		outcome = OutcomeCanceled
	default:
		outcome = OutcomeError
	}
	s.opts.observer.ExpectDone(ctx, n, outcome, time.Since(start))
	s.opts.logger.Debug("expect done",
		slog.String("needle", n.String()),
		slog.String("outcome", string(outcome)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("buffered", len(s.buf)))
	return before, matched, err
}

func (s *Session) expect(ctx context.Context, n Needle) (string, string, error) {
	if s.eof {
		return s.matchEnded(n)
	}
	// Data left over from an earlier call may already satisfy n.
	if l, r, ok := Find(n, s.buf, false); ok {
		before, matched := s.consume(l, r)
		return before, matched, nil
	}

	if s.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
	}

	for {
		if s.pending == nil {
			s.pending = s.startRead()
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", "", fmt.Errorf("waiting for %s: %w", n, ErrTimeout)
			}
			return "", "", fmt.Errorf("waiting for %s: %w", n, ctx.Err())

		case res := <-s.pending:
			s.pending = nil
			s.opts.observer.BytesRead(ctx, len(res.data))
			s.append(res.data)
			s.opts.logger.Debug("read",
				slog.Int("bytes", len(res.data)),
				slog.String("data", string(res.data)))

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					s.eof = true
					s.flushPartial()
					return s.matchEnded(n)
				}
				return "", "", &TransportError{Op: "read", Err: res.err}
			}
			if l, r, ok := Find(n, s.buf, false); ok {
				before, matched := s.consume(l, r)
				return before, matched, nil
			}
		}
	}
}

// matchEnded matches n against the buffer of a stream that has ended.
func (s *Session) matchEnded(n Needle) (string, string, error) {
	if l, r, ok := Find(n, s.buf, true); ok {
		before, matched := s.consume(l, r)
		return before, matched, nil
	}
	return "", "", fmt.Errorf("waiting for %s: %w", n, ErrEOF)
}

// startRead issues one bounded read on its own goroutine. The result is
// delivered on the returned channel, which never blocks the reader.
func (s *Session) startRead() chan readResult {
	ch := make(chan readResult, 1)
	p := make([]byte, s.opts.chunkSize)
	go func() {
		n, err := s.t.Read(p)
		if n < 0 {
			n = 0
		}
		ch <- readResult{data: p[:n], err: err}
	}()
	return ch
}

// append decodes p and appends it to the buffer. Invalid bytes become
// utf8.RuneError; an incomplete sequence at the end of p waits for the
// next read.
func (s *Session) append(p []byte) {
	if len(s.partial) > 0 {
		p = append(s.partial, p...)
		s.partial = nil
	}
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size <= 1 && !utf8.FullRune(p) {
			s.partial = append([]byte(nil), p...)
			return
		}
		s.buf = append(s.buf, r)
		p = p[size:]
	}
}

// flushPartial decodes a dangling incomplete sequence once no more bytes
// can complete it.
func (s *Session) flushPartial() {
	for range s.partial {
		s.buf = append(s.buf, utf8.RuneError)
	}
	s.partial = nil
}

// consume removes buf[:r] and returns it split at l.
func (s *Session) consume(l, r int) (string, string) {
	before := string(s.buf[:l])
	matched := string(s.buf[l:r])
	s.buf = append([]rune(nil), s.buf[r:]...)
	return before, matched
}
