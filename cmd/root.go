package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/config"
	"github.com/timvw/pane-expect/internal/expect"
	"github.com/timvw/pane-expect/internal/transport"
)

var (
	// Global flags.
	flagConfig    string
	flagTarget    string
	flagTimeout   string
	flagChunkSize int
	flagTheme     string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "pane-expect",
	Short: "Drive interactive programs by waiting for what they print",
	Long: `pane-expect talks to interactive programs the way a person at a terminal would:
send some input, wait for a known piece of output, react.

A target names the program to talk to:
  exec:<command line>        child process (stdout and stderr merged)
  tcp://host:port            raw TCP connection
  telnet://host:port         telnet server (CRLF line endings)
  ssh://[user@]host[:port]   login shell on a pseudo-terminal
                             (PANE_EXPECT_SSH_PASSWORD, PANE_EXPECT_SSH_KEY)
  tmux:<session:window.pane> existing tmux pane
  loopback:                  in-memory echo, for trying scripts

Waits are bounded by --timeout ("off" waits forever).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("PANE_EXPECT_CONFIG", ""), "config file (default: .pane-expect.yaml, then ~/.config/pane-expect/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagTarget, "target", "", "transport target, e.g. \"exec:/bin/sh -i\" (env: PANE_EXPECT_TARGET)")
	rootCmd.PersistentFlags().StringVar(&flagTimeout, "timeout", "", "expect timeout, e.g. 10s; 0/off/disable for none (default: 30s)")
	rootCmd.PersistentFlags().IntVar(&flagChunkSize, "chunk-size", 0, "bytes requested per read (default: 128)")
	rootCmd.PersistentFlags().StringVar(&flagTheme, "theme", "", "report colors: dark, light (default: dark)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log every read and match to stderr")
}

// loadConfig resolves configuration: defaults -> config file -> env vars -> flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" && flagVerbose {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
	}

	if flagTarget != "" {
		cfg.Target = flagTarget
	}
	if flagTimeout != "" {
		d, err := config.ParseDurationOrDisable(flagTimeout, cfg.TimeoutDuration)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout %q: %w", flagTimeout, err)
		}
		cfg.Timeout = flagTimeout
		cfg.TimeoutDuration = d
	}
	if flagChunkSize > 0 {
		cfg.ChunkSize = flagChunkSize
	}
	if flagTheme != "" {
		cfg.Theme = flagTheme
	}
	return cfg, nil
}

// newLogger returns the stderr logger; --verbose enables debug output.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openSession connects to target and wraps it in a session.
// The caller closes the returned connection.
func openSession(ctx context.Context, target string, opts ...expect.Option) (transport.Conn, *expect.Session, error) {
	if target == "" {
		return nil, nil, fmt.Errorf("no target: pass --target or set PANE_EXPECT_TARGET")
	}
	conn, err := transport.Open(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %q: %w", target, err)
	}
	return conn, expect.New(conn, opts...), nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
