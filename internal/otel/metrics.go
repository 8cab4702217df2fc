package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/timvw/pane-expect/internal/expect"
)

const meterName = "pane-expect"

// Metrics holds all OTEL metric instruments for pane-expect.
// It implements expect.Observer, so a session can report to it directly.
// A nil *Metrics records nothing.
type Metrics struct {
	// Expect calls (partitioned by outcome: matched, timeout, eof, canceled, error)
	ExpectCalls    metric.Int64Counter
	ExpectDuration metric.Float64Histogram

	// Transport traffic
	ReadBytes    metric.Int64Counter
	WrittenBytes metric.Int64Counter
}

var _ expect.Observer = (*Metrics)(nil)

// NewMetrics creates the instruments on mp. A no-op provider yields
// instruments that record nothing.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	return newMetrics(mp.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Expect ---

	m.ExpectCalls, err = meter.Int64Counter("expect.calls",
		metric.WithDescription("Expect calls partitioned by outcome"))
	if err != nil {
		return nil, err
	}

	m.ExpectDuration, err = meter.Float64Histogram("expect.duration",
		metric.WithDescription("Time spent waiting in Expect"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	// --- Transport ---

	m.ReadBytes, err = meter.Int64Counter("transport.bytes.read",
		metric.WithDescription("Bytes read from the transport"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	m.WrittenBytes, err = meter.Int64Counter("transport.bytes.written",
		metric.WithDescription("Bytes written to the transport"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// BytesRead implements expect.Observer.
func (m *Metrics) BytesRead(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReadBytes.Add(ctx, int64(n))
}

// BytesWritten implements expect.Observer.
func (m *Metrics) BytesWritten(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WrittenBytes.Add(ctx, int64(n))
}

// ExpectDone implements expect.Observer.
func (m *Metrics) ExpectDone(ctx context.Context, _ expect.Needle, outcome expect.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("expect.outcome", string(outcome)))
	m.ExpectCalls.Add(ctx, 1, attrs)
	m.ExpectDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}
