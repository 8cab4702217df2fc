package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process runs a child process and exposes its standard streams.
// Stdout and stderr are merged into a single readable stream, the way a
// terminal shows them.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File
	w      *bufio.Writer
}

// StartProcess starts argv[0] with the remaining arguments.
func StartProcess(argv []string, env ...string) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	// The child holds its own copy; ours must go so that Read sees EOF
	// when the child exits.
	pw.Close()

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		output: pr,
		w:      bufio.NewWriter(stdin),
	}, nil
}

// Name returns "exec".
func (p *Process) Name() string {
	return "exec"
}

// PID returns the child's process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

func (p *Process) Read(b []byte) (int, error) {
	n, err := p.output.Read(b)
	if errors.Is(err, os.ErrClosed) {
		err = io.EOF
	}
	return n, err
}

// Write buffers b; call Flush to deliver it to the child's stdin.
func (p *Process) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

func (p *Process) Flush() error {
	return p.w.Flush()
}

// Close closes stdin, kills the child if it is still running and reaps it.
func (p *Process) Close() error {
	_ = p.w.Flush()
	_ = p.stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	return p.output.Close()
}
