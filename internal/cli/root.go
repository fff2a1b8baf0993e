package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mouse/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// annotationLogFile marks commands whose log is also appended to the cache
// log file.
const annotationLogFile = "mouse/logfile"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mouse",
	Short: "mouse - a multiqueue TUN over UDP tunnel client",
	Long: `mouse - a multiqueue TUN over UDP tunnel client

  Creates a multiqueue TUN interface and carries every IP packet it sees
  to a remote peer as one UDP datagram, and back.

  Quick start:
    sudo mouse connect vpn.example.com 51820 --address 10.8.0.2/24
    mouse status
    mouse tui`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

func closeApp() error {
	if appInstance == nil {
		return nil
	}
	err := appInstance.Close()
	appInstance = nil
	return err
}

func initApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	flags := cmd.Root().PersistentFlags()
	configPath, _ := flags.GetString("config")
	dbPath, _ := flags.GetString("db")
	logLevel, _ := flags.GetString("log-level")
	verbose, _ := flags.GetBool("verbose")
	_, logToFile := cmd.Annotations[annotationLogFile]

	var err error
	appInstance, err = app.New(app.Options{
		ConfigPath: configPath,
		DBPath:     dbPath,
		LogLevel:   logLevel,
		Verbose:    verbose,
		LogToFile:  logToFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return nil
}

// Execute executes the root command
func Execute() {
	err := rootCmd.Execute()
	// Post-run hooks are skipped when a command fails.
	closeApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorText.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default ~/.config/mouse/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().String("db", "", "database path (default ~/.local/share/mouse/mouse.db)")

	rootCmd.RegisterFlagCompletionFunc("log-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No database or config needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mouse %s\n", version)
	},
}
