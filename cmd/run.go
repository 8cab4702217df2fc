package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/expect"
	telem "github.com/timvw/pane-expect/internal/otel"
	"github.com/timvw/pane-expect/internal/prompts"
	"github.com/timvw/pane-expect/internal/script"
)

var flagRunJSON bool

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Run an expect script",
	Long: `Run a YAML expect script against a target.

The target is taken from --target, then the script's own "target" key, then
the configuration. The timeout follows the same order. Steps run in order
and the run stops at the first failing step.

Example script:

  target: exec:/bin/sh -i
  timeout: 5s
  steps:
    - send_line: echo hello
    - expect: {literal: hello}
    - expect: {prompt: shell}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc, err := script.ParseFile(args[0], prompts.NewRegistry())
		if err != nil {
			return err
		}

		target := sc.Target
		if flagTarget != "" || target == "" {
			target = cfg.Target
		}
		timeout := cfg.TimeoutDuration
		if flagTimeout == "" && sc.HasTimeout {
			timeout = sc.Timeout
		}

		// No-op unless an OTLP endpoint is configured.
		tel, err := telem.Init(ctx, telem.Settings{
			Endpoint: cfg.OTELEndpoint,
			Headers:  cfg.OTELHeaders,
			Interval: cfg.OTELIntervalDuration,
			Version:  Version,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
		}
		var metrics *telem.Metrics
		if tel != nil {
			defer tel.Shutdown(ctx)
			metrics = tel.Metrics
		}

		runID := uuid.NewString()
		logger := newLogger(flagVerbose).With(slog.String("run_id", runID))

		conn, sess, err := openSession(ctx, target,
			expect.WithTimeout(timeout),
			expect.WithChunkSize(cfg.ChunkSize),
			expect.WithLogger(logger),
			expect.WithObserver(metrics),
		)
		if err != nil {
			return err
		}
		defer conn.Close()

		runner := &script.Runner{Script: sc, Logger: logger, RunID: runID}
		if tel != nil {
			runner.Tracer = tel.ScriptTracer
		}
		results, runErr := runner.Run(ctx, sess)

		if flagRunJSON {
			if err := writeResultsJSON(os.Stdout, runID, target, results); err != nil {
				return err
			}
		} else {
			renderReport(os.Stdout, newStyles(ThemeByName(cfg.Theme)), args[0], target, results, len(sc.Steps))
			if runErr != nil {
				if rest := sess.Buffer(); rest != "" {
					fmt.Fprintf(os.Stdout, "\nunmatched output: %q\n", tail(rest, 400))
				}
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagRunJSON, "json", false, "print step results as JSON")
	rootCmd.AddCommand(runCmd)
}

// stepJSON is the JSON form of a script.Result.
type stepJSON struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Preamble   string  `json:"preamble,omitempty"`
	Matched    string  `json:"matched,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

type runJSON struct {
	RunID  string     `json:"run_id"`
	Target string     `json:"target"`
	OK     bool       `json:"ok"`
	Steps  []stepJSON `json:"steps"`
}

func writeResultsJSON(w io.Writer, runID, target string, results []script.Result) error {
	out := runJSON{RunID: runID, Target: target, OK: true, Steps: make([]stepJSON, 0, len(results))}
	for _, r := range results {
		s := stepJSON{
			Index:      r.Index,
			Name:       r.Name,
			Kind:       string(r.Kind),
			Preamble:   r.Preamble,
			Matched:    r.Matched,
			DurationMS: float64(r.Duration) / float64(time.Millisecond),
		}
		if r.Err != nil {
			s.Error = r.Err.Error()
			out.OK = false
		}
		out.Steps = append(out.Steps, s)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// renderReport prints one line per executed step and a summary.
func renderReport(w io.Writer, st styles, name, target string, results []script.Result, total int) {
	fmt.Fprintln(w, st.title.Render(name)+" "+st.dim.Render("("+target+")"))
	failed := 0
	for _, r := range results {
		mark := st.ok.Render("ok  ")
		switch {
		case errors.Is(r.Err, expect.ErrTimeout):
			mark = st.timeout.Render("TIME")
			failed = r.Index
		case r.Err != nil:
			mark = st.fail.Render("FAIL")
			failed = r.Index
		}
		line := fmt.Sprintf("%s %s %s %s",
			mark,
			st.dim.Render(fmt.Sprintf("%2d", r.Index)),
			st.text.Render(r.Name),
			st.dim.Render(r.Duration.Round(time.Millisecond).String()))
		fmt.Fprintln(w, line)
		if r.Err != nil {
			fmt.Fprintln(w, "     "+st.fail.Render(r.Err.Error()))
		}
	}
	if failed > 0 {
		fmt.Fprintln(w, st.fail.Render(fmt.Sprintf("failed at step %d of %d", failed, total)))
		return
	}
	fmt.Fprintln(w, st.ok.Render(fmt.Sprintf("%d steps passed", len(results))))
}

// tail returns at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return "..." + s
}
