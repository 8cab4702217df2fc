package script

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pane-expect/internal/expect"
)

// Result records the outcome of one executed step.
type Result struct {
	Index    int // 1-based position in the script
	Name     string
	Kind     Kind
	Preamble string // text before the match (expect steps)
	Matched  string // matched text (expect steps)
	Duration time.Duration
	Err      error
}

// Runner executes a script against a session.
type Runner struct {
	Script *Script
	Logger *slog.Logger

	// RunID, when set, is attached to every step span.
	RunID string

	// Tracer records the script and step spans. When nil, the global
	// provider's "pane-expect/script" tracer is used.
	Tracer trace.Tracer
}

// Run executes the steps in order and stops at the first failure.
// It returns the results of every step that ran, including the failed one,
// and the failing step's error.
func (r *Runner) Run(ctx context.Context, sess *expect.Session) ([]Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if r.Tracer == nil {
		r.Tracer = otel.Tracer("pane-expect/script")
	}

	ctx, span := r.Tracer.Start(ctx, "script",
		trace.WithAttributes(
			attribute.String("run.id", r.RunID),
			attribute.String("script.target", r.Script.Target),
			attribute.Int("script.steps", len(r.Script.Steps)),
		))
	defer span.End()

	results := make([]Result, 0, len(r.Script.Steps))
	for i, step := range r.Script.Steps {
		res := r.runStep(ctx, sess, i+1, step)
		results = append(results, res)

		if res.Err != nil {
			logger.Error("step failed",
				slog.Int("step", res.Index),
				slog.String("name", res.Name),
				slog.Any("err", res.Err))
			span.SetStatus(codes.Error, res.Err.Error())
			return results, fmt.Errorf("step %d (%s): %w", res.Index, res.Name, res.Err)
		}
		logger.Debug("step done",
			slog.Int("step", res.Index),
			slog.String("name", res.Name),
			slog.Duration("elapsed", res.Duration))
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, sess *expect.Session, index int, step Step) Result {
	res := Result{Index: index, Name: step.String(), Kind: step.Kind}

	ctx, span := r.Tracer.Start(ctx, "step "+string(step.Kind),
		trace.WithAttributes(
			attribute.String("run.id", r.RunID),
			attribute.Int("step.index", index),
			attribute.String("step.name", res.Name),
		))
	defer span.End()

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	switch step.Kind {
	case KindSend:
		res.Err = sendAndFlush(ctx, sess, step.Text)
	case KindSendLine:
		res.Err = sendAndFlush(ctx, sess, step.Text+"\n")
	case KindSendControl:
		res.Err = sess.SendControlContext(ctx, step.Control)
	case KindFlush:
		res.Err = sess.Flush()
	case KindExpect:
		span.SetAttributes(attribute.String("expect.needle", step.Needle.String()))
		res.Preamble, res.Matched, res.Err = sess.Expect(ctx, step.Needle)
		if res.Err == nil {
			span.SetAttributes(
				attribute.Int("expect.preamble.length", len(res.Preamble)),
				attribute.String("expect.matched", res.Matched),
			)
		}
	case KindSleep:
		res.Err = sleep(ctx, step.Sleep)
	default:
		res.Err = fmt.Errorf("unknown step kind %q", step.Kind)
	}
	res.Duration = time.Since(start)

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

// sendAndFlush writes text and flushes it, so the next expect step sees
// the reply on transports that buffer writes.
func sendAndFlush(ctx context.Context, sess *expect.Session, text string) error {
	if err := sess.SendContext(ctx, text); err != nil {
		return err
	}
	return sess.Flush()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
