package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mouse/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive terminal UI",
	Long:  `Launch the full-screen live view of the running tunnel and its session history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tui.NewProgram(tui.Deps{Storage: appInstance.Storage})
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
