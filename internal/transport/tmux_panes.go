package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TmuxPane describes one pane of a running tmux server.
type TmuxPane struct {
	Target  string // session:window.pane
	ID      string // %<id>
	Session string
	PID     int
	Command string
}

// Address returns the pane as a transport target ("tmux:session:window.pane").
func (p TmuxPane) Address() string {
	return "tmux:" + p.Target
}

const tmuxPaneFormat = "#{session_name}:#{window_index}.#{pane_index}\t#{pane_id}\t#{pane_pid}\t#{pane_current_command}"

// ListTmuxPanes returns all tmux panes, optionally filtered by a session
// name pattern. An empty filter returns all panes.
func ListTmuxPanes(ctx context.Context, filter string) ([]TmuxPane, error) {
	return listTmuxPanes(ctx, runTmux, filter)
}

func listTmuxPanes(ctx context.Context, run func(context.Context, ...string) (string, error), filter string) ([]TmuxPane, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	out, err := run(ctx, "list-panes", "-a", "-F", tmuxPaneFormat)
	if err != nil {
		return nil, fmt.Errorf("tmux list-panes: %w", err)
	}

	var panes []TmuxPane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			continue
		}
		if validateTarget(parts[0]) != nil {
			continue
		}
		session := parts[0][:strings.LastIndex(parts[0], ":")]
		if re != nil && !re.MatchString(session) {
			continue
		}
		pid, _ := strconv.Atoi(parts[2])
		panes = append(panes, TmuxPane{
			Target:  parts[0],
			ID:      parts[1],
			Session: session,
			PID:     pid,
			Command: parts[3],
		})
	}
	return panes, nil
}
