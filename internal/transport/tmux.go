package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Tmux drives an existing tmux pane.
//
// Writes are buffered and delivered by Flush as "send-keys -H", which
// passes every byte, control bytes included, to the pane unchanged.
// Output is mirrored by "pipe-pane" into a temporary file that Read tails.
type Tmux struct {
	target string
	run    func(ctx context.Context, args ...string) (string, error)

	pending []byte
	logPath string
	log     *os.File
	closed  atomix.Uint32
}

// OpenTmux starts mirroring the output of target ("session:window.pane"
// or a "%<id>" pane ID) and returns a transport for it.
func OpenTmux(ctx context.Context, target string) (*Tmux, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	t := &Tmux{target: target, run: runTmux}
	if err := t.start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// start creates the mirror file and attaches pipe-pane to it.
func (t *Tmux) start(ctx context.Context) error {
	f, err := os.CreateTemp("", "pane-expect-*.log")
	if err != nil {
		return fmt.Errorf("tmux mirror file: %w", err)
	}
	t.log = f
	t.logPath = f.Name()

	if _, err := t.run(ctx, "pipe-pane", "-O", "-t", t.target, "cat >> "+shellQuote(t.logPath)); err != nil {
		f.Close()
		os.Remove(t.logPath)
		return fmt.Errorf("tmux pipe-pane -t %s: %w", t.target, err)
	}
	return nil
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// Read returns mirrored pane output, waiting with adaptive backoff while
// none is available. It reports io.EOF once the transport is closed.
func (t *Tmux) Read(b []byte) (int, error) {
	var bo iox.Backoff
	for {
		n, err := t.log.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if errors.Is(err, os.ErrClosed) {
				return 0, io.EOF
			}
			return 0, err
		}
		if t.closed.Load() != 0 {
			return 0, io.EOF
		}
		bo.Wait()
	}
}

// Write queues b for the next Flush.
func (t *Tmux) Write(b []byte) (int, error) {
	if t.closed.Load() != 0 {
		return 0, io.ErrClosedPipe
	}
	t.pending = append(t.pending, b...)
	return len(b), nil
}

// Flush sends the queued bytes to the pane.
func (t *Tmux) Flush() error {
	if len(t.pending) == 0 {
		return nil
	}
	args := append([]string{"send-keys", "-t", t.target, "-H"}, hexKeys(t.pending)...)
	if _, err := t.run(context.Background(), args...); err != nil {
		return fmt.Errorf("tmux send-keys -t %s: %w", t.target, err)
	}
	t.pending = t.pending[:0]
	return nil
}

// Close detaches pipe-pane and removes the mirror file. The pane itself
// keeps running.
func (t *Tmux) Close() error {
	t.closed.Add(1)
	_, err := t.run(context.Background(), "pipe-pane", "-t", t.target)
	t.log.Close()
	os.Remove(t.logPath)
	if err != nil {
		return fmt.Errorf("tmux pipe-pane -t %s: %w", t.target, err)
	}
	return nil
}

// runTmux executes a tmux command and returns its stdout.
func runTmux(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

// hexKeys renders bytes as send-keys -H arguments.
func hexKeys(b []byte) []string {
	keys := make([]string, len(b))
	for i, c := range b {
		keys[i] = fmt.Sprintf("%02x", c)
	}
	return keys
}

// shellQuote quotes s for the shell that runs the pipe-pane command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// validateTarget accepts "%<id>" pane IDs and "session:window.pane" targets.
func validateTarget(target string) error {
	if strings.HasPrefix(target, "%") {
		if _, err := strconv.Atoi(target[1:]); err != nil {
			return fmt.Errorf("invalid pane id %q: %w", target, err)
		}
		return nil
	}

	colonIdx := strings.LastIndex(target, ":")
	if colonIdx <= 0 {
		return fmt.Errorf("invalid target %q: missing ':'", target)
	}
	rest := target[colonIdx+1:]

	dotIdx := strings.LastIndex(rest, ".")
	if dotIdx < 0 {
		return fmt.Errorf("invalid target %q: missing '.'", target)
	}
	if _, err := strconv.Atoi(rest[:dotIdx]); err != nil {
		return fmt.Errorf("invalid window index in %q: %w", target, err)
	}
	if _, err := strconv.Atoi(rest[dotIdx+1:]); err != nil {
		return fmt.Errorf("invalid pane index in %q: %w", target, err)
	}
	return nil
}
