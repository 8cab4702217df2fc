package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/transport"
)

var (
	flagFilter      string
	flagTargetsLong bool
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List tmux panes as targets",
	Long: `List all tmux panes as targets.

Each line is a target that can be passed to --target, probe or send.
Optionally filter by session name using a regex pattern.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		panes, err := transport.ListTmuxPanes(cmd.Context(), flagFilter)
		if err != nil {
			return fmt.Errorf("failed to list panes: %w", err)
		}

		for _, p := range panes {
			if flagTargetsLong {
				fmt.Printf("%-30s %-5s %-7d %s\n", p.Address(), p.ID, p.PID, p.Command)
				continue
			}
			fmt.Println(p.Address())
		}
		return nil
	},
}

func init() {
	targetsCmd.Flags().StringVar(&flagFilter, "filter", "", "regex pattern to filter by session name")
	targetsCmd.Flags().BoolVarP(&flagTargetsLong, "long", "l", false, "show pane id, pid and command")
	rootCmd.AddCommand(targetsCmd)
}
