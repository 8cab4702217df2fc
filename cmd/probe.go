package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/expect"
	"github.com/timvw/pane-expect/internal/prompts"
)

var (
	flagProbeSend    string
	flagProbeLiteral string
	flagProbeRegexp  string
	flagProbePrompt  string
	flagProbeEOF     bool
)

var probeCmd = &cobra.Command{
	Use:   "probe [target]",
	Short: "Wait for one needle and print what was read",
	Long: `Open a target, optionally send a line, wait for a single needle and print
the result as JSON.

Exactly one of --literal, --regexp, --prompt or --eof selects the needle.
Without any of them probe waits for a shell prompt.

The target argument overrides --target and the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target := cfg.Target
		if len(args) == 1 {
			target = args[0]
		}

		needle, err := probeNeedle(prompts.NewRegistry())
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		logger := newLogger(flagVerbose).With(slog.String("run_id", runID))

		conn, sess, err := openSession(cmd.Context(), target,
			expect.WithTimeout(cfg.TimeoutDuration),
			expect.WithChunkSize(cfg.ChunkSize),
			expect.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer conn.Close()

		if flagProbeSend != "" {
			if err := sess.SendLine(flagProbeSend); err != nil {
				return err
			}
			if err := sess.Flush(); err != nil {
				return err
			}
		}

		start := time.Now()
		before, matched, expErr := sess.Expect(cmd.Context(), needle)
		out := probeResult{
			RunID:     runID,
			Target:    target,
			Transport: conn.Name(),
			Needle:    needle.String(),
			Preamble:  before,
			Matched:   matched,
			ElapsedMS: float64(time.Since(start)) / float64(time.Millisecond),
		}
		if expErr != nil {
			out.Error = expErr.Error()
			out.Buffer = sess.Buffer()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return expErr
	},
}

type probeResult struct {
	RunID     string  `json:"run_id"`
	Target    string  `json:"target"`
	Transport string  `json:"transport"`
	Needle    string  `json:"needle"`
	Preamble  string  `json:"preamble"`
	Matched   string  `json:"matched"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
	Buffer    string  `json:"buffer,omitempty"`
}

// probeNeedle builds the needle selected by the probe flags.
func probeNeedle(reg *prompts.Registry) (expect.Needle, error) {
	var (
		needles []expect.Needle
		n       expect.Needle
	)
	if flagProbeLiteral != "" {
		needles = append(needles, expect.Literal(flagProbeLiteral))
	}
	if flagProbeRegexp != "" {
		re, err := expect.Compile(flagProbeRegexp)
		if err != nil {
			return n, err
		}
		needles = append(needles, re)
	}
	if flagProbePrompt != "" {
		p, ok := reg.Lookup(flagProbePrompt)
		if !ok {
			return n, fmt.Errorf("unknown prompt %q (see: pane-expect prompts)", flagProbePrompt)
		}
		needles = append(needles, p)
	}
	if flagProbeEOF {
		needles = append(needles, expect.EOF())
	}

	switch len(needles) {
	case 0:
		p, _ := reg.Lookup("shell")
		return p, nil
	case 1:
		return needles[0], nil
	default:
		return n, fmt.Errorf("choose one of --literal, --regexp, --prompt, --eof")
	}
}

func init() {
	probeCmd.Flags().StringVar(&flagProbeSend, "send", "", "line to send before waiting")
	probeCmd.Flags().StringVar(&flagProbeLiteral, "literal", "", "wait for this exact text")
	probeCmd.Flags().StringVar(&flagProbeRegexp, "regexp", "", "wait for a match of this regular expression")
	probeCmd.Flags().StringVar(&flagProbePrompt, "prompt", "", "wait for a named prompt (see: pane-expect prompts)")
	probeCmd.Flags().BoolVar(&flagProbeEOF, "eof", false, "wait for the end of the stream")
	rootCmd.AddCommand(probeCmd)
}
