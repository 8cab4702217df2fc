package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-expect/internal/prompts"
)

var flagPromptsVerbose bool

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the built-in prompt needles",
	Long: `List the named prompts usable as {prompt: <name>} in scripts and with probe --prompt.

Each line is a prompt name. With -l the description and pattern are shown too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prompts.NewRegistry()
		for _, p := range reg.All() {
			if !flagPromptsVerbose {
				fmt.Println(p.Name)
				continue
			}
			fmt.Printf("%-10s %-40s %s\n", p.Name, p.Description, p.Needle)
		}
		return nil
	},
}

func init() {
	promptsCmd.Flags().BoolVarP(&flagPromptsVerbose, "long", "l", false, "show description and pattern")
	rootCmd.AddCommand(promptsCmd)
}
