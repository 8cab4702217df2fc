package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/expect"
)

var (
	flagSendRaw     bool
	flagSendControl string
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send text or control keys to a target",
	Long: `Send text to a target and flush it. A newline is appended unless --raw is set.

--control sends each of its characters as a control key after the text,
e.g. --control c for Ctrl+C or --control d for Ctrl+D.

This is pure transport: nothing is read back. Use probe or run to wait for output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && flagSendControl == "" {
			return fmt.Errorf("nothing to send: pass text or --control")
		}
		// Reject unknown control keys before touching the target.
		for _, c := range flagSendControl {
			if _, err := expect.ControlCode(c); err != nil {
				return err
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, sess, err := openSession(cmd.Context(), cfg.Target,
			expect.WithLogger(newLogger(flagVerbose)))
		if err != nil {
			return err
		}
		defer conn.Close()

		if len(args) == 1 {
			if flagSendRaw {
				err = sess.Send(args[0])
			} else {
				err = sess.SendLine(args[0])
			}
			if err != nil {
				return err
			}
			if err := sess.Flush(); err != nil {
				return err
			}
		}
		for _, c := range flagSendControl {
			if err := sess.SendControl(c); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVar(&flagSendRaw, "raw", false, "do not append a newline")
	sendCmd.Flags().StringVar(&flagSendControl, "control", "", "control keys to send, one character each (e.g. \"c\" for Ctrl+C)")
	rootCmd.AddCommand(sendCmd)
}
