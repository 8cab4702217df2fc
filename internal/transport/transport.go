// Package transport provides the duplex byte streams an expect session
// drives: child processes, TCP, telnet and SSH connections, tmux panes
// and an in-memory loopback.
//
// This package is pure transport. It moves bytes and never interprets
// them; matching is the job of the expect package.
package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/timvw/pane-expect/internal/expect"
)

// Conn is a transport that can be closed.
type Conn interface {
	expect.Transport
	io.Closer

	// Name returns the transport kind (e.g., "exec", "tcp", "tmux").
	Name() string
}

// Schemes lists the supported target schemes, in help-text order.
var Schemes = []string{"exec", "tcp", "telnet", "ssh", "tmux", "loopback"}

// Parse splits a target string into its scheme and address.
//
//	exec:/bin/sh -i      -> ("exec", "/bin/sh -i")
//	tcp://host:23        -> ("tcp", "host:23")
//	telnet://host:23     -> ("telnet", "host:23")
//	ssh://bob@host       -> ("ssh", "bob@host")
//	tmux:work:0.1        -> ("tmux", "work:0.1")
//	loopback:            -> ("loopback", "")
func Parse(target string) (scheme, address string, err error) {
	scheme, address, ok := strings.Cut(strings.TrimSpace(target), ":")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("invalid target %q: missing scheme (supported: %s)", target, strings.Join(Schemes, ", "))
	}
	switch scheme {
	case "exec":
		if strings.TrimSpace(address) == "" {
			return "", "", fmt.Errorf("invalid target %q: missing command", target)
		}
	case "tcp", "telnet":
		address = strings.TrimPrefix(address, "//")
		if address == "" {
			return "", "", fmt.Errorf("invalid target %q: missing host:port", target)
		}
	case "ssh":
		address = strings.TrimPrefix(address, "//")
		if address == "" {
			return "", "", fmt.Errorf("invalid target %q: missing host", target)
		}
	case "tmux":
		if address == "" {
			return "", "", fmt.Errorf("invalid target %q: missing pane", target)
		}
	case "loopback":
	default:
		return "", "", fmt.Errorf("unknown transport %q (supported: %s)", scheme, strings.Join(Schemes, ", "))
	}
	return scheme, address, nil
}

// Open connects to target. ctx bounds connection setup only; the
// returned Conn outlives it.
func Open(ctx context.Context, target string) (Conn, error) {
	scheme, address, err := Parse(target)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "exec":
		argv, err := SplitCommand(address)
		if err != nil {
			return nil, fmt.Errorf("invalid command %q: %w", address, err)
		}
		return StartProcess(argv)
	case "tcp":
		return DialTCP(ctx, address)
	case "telnet":
		return DialTelnet(ctx, address)
	case "ssh":
		return DialSSH(ctx, address, SSHConfigFromEnv())
	case "tmux":
		return OpenTmux(ctx, address)
	default:
		return NewLoopback(), nil
	}
}

// SplitCommand splits a command line into arguments. Whitespace separates
// arguments; single quotes, double quotes and backslashes work as in a
// POSIX shell, without any expansion.
func SplitCommand(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == quote:
				quote = 0
			case r == '\\' && quote == '"':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inArg = true
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inArg {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}
