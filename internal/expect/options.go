package expect

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Outcome classifies how an Expect call ended.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeEOF      Outcome = "eof"
	OutcomeCanceled Outcome = "canceled"
	OutcomeError    Outcome = "error"
)

// Observer is notified of session traffic. Implementations must be cheap;
// they run on the caller's goroutine.
type Observer interface {
	BytesRead(ctx context.Context, n int)
	BytesWritten(ctx context.Context, n int)
	ExpectDone(ctx context.Context, needle Needle, outcome Outcome, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) BytesRead(context.Context, int) {}
func (nopObserver) BytesWritten(context.Context, int) {}
func (nopObserver) ExpectDone(context.Context, Needle, Outcome, time.Duration) {}

type options struct {
	timeout   time.Duration
	chunkSize int
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Session created by New.
type Option func(*options)

// WithTimeout bounds every Expect call. Zero or negative means no bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithChunkSize sets the maximum number of bytes requested per read.
// Values below 1 keep the default.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithLogger sets the logger used for debug traces of reads and matches.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an Observer, e.g. a metrics recorder.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

const defaultChunkSize = 128

func defaultOptions() options {
	return options{
		chunkSize: defaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
		observer:  nopObserver{},
	}
}

// Transport is the duplex byte stream a Session drives.
type Transport interface {
	io.Reader
	io.Writer
	// Flush delivers any buffered writes.
	Flush() error
}

// NopFlusher adapts an unbuffered io.ReadWriter into a Transport whose
// Flush does nothing.
func NopFlusher(rw io.ReadWriter) Transport {
	return nopFlusher{rw}
}

type nopFlusher struct {
	io.ReadWriter
}

func (nopFlusher) Flush() error { return nil }
