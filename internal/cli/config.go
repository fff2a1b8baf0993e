package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mouse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(appInstance.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, dimText.Render("# "+appInstance.Paths.Config))
		_, err = out.Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), appInstance.Paths.Config)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := appInstance.Paths.Config
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		cfg := config.Default()
		if host, _ := cmd.Flags().GetString("remote"); host != "" {
			cfg.Remote.Host = host
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Remote.Service = port
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okText.Render("Wrote "+path))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Config.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okText.Render("Config OK"))
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("remote", "", "remote host to write")
	configInitCmd.Flags().String("port", "", "remote port to write")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(configCmd)
}
