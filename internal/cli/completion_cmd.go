package cli

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for mouse.

To load completions:

Bash:
  $ source <(mouse completion bash)
  # To load completions for each session, execute once:
  $ mouse completion bash | sudo tee /etc/bash_completion.d/mouse

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ mouse completion zsh > "${fpath[1]}/_mouse"

Fish:
  $ mouse completion fish | source
  # To load completions for each session, execute once:
  $ mouse completion fish > ~/.config/fish/completions/mouse.fish
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	// Scripts are generated without touching the database.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
