package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mouse/internal/config"
	"mouse/internal/core"
	"mouse/internal/core/client"
	"mouse/internal/core/tun"
	"mouse/internal/resolver"
	"mouse/internal/storage"
)

var connectCmd = &cobra.Command{
	Use:   "connect [host] [port]",
	Short: "Bring the tunnel up",
	Long: `Create the TUN interface and forward packets to the remote peer until
interrupted. Host and port default to the config file, then to the last
remote used. Requires root.`,
	Args:              cobra.MaximumNArgs(2),
	ValidArgsFunction: completeRemoteHosts,
	Annotations:       map[string]string{annotationLogFile: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := *appInstance.Config
		if err := applyConnectArgs(cmd, args, &cfg); err != nil {
			return err
		}
		if err := fillRemoteFromSettings(ctx, appInstance.Storage, &cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := tun.CheckPrivileges(); err != nil {
			return fmt.Errorf("%w: creating a TUN interface needs root, try sudo", err)
		}

		active, err := appInstance.Storage.GetActiveSession(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("already connected to %s (session %d, pid %d)", active.Remote, active.ID, active.PID)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleText.Render("Connecting"))
		fmt.Fprintln(out, field("Remote", fmt.Sprintf("%s port %s", cfg.Remote.Host, cfg.Remote.Service)))
		fmt.Fprintln(out, field("Interface", fmt.Sprintf("%s (%d queues, mtu %d)", cfg.Tun.Name, cfg.Tun.Queues, cfg.Tun.MTU)))
		if cfg.Tun.Address != "" {
			fmt.Fprintln(out, field("Address", cfg.Tun.Address))
		}
		if appInstance.Paths.Log != "" {
			fmt.Fprintln(out, field("Log", appInstance.Paths.Log))
		}
		fmt.Fprintln(out, dimText.Render("Press Ctrl+C to disconnect."))

		c := client.New(clientConfig(&cfg), newResolver(&cfg), appInstance.Logger)
		mgr := core.NewManager(appInstance.Storage, cfg.Stats.Interval, appInstance.Logger)
		if err := mgr.Run(ctx, c, cfg.RemoteQuery()); err != nil {
			return err
		}
		fmt.Fprintln(out, okText.Render("Disconnected"))
		return nil
	},
}

// applyConnectArgs overrides the loaded config with positional arguments
// and flags the user actually set.
func applyConnectArgs(cmd *cobra.Command, args []string, cfg *config.Config) error {
	if len(args) > 0 {
		cfg.Remote.Host = args[0]
	}
	if len(args) > 1 {
		cfg.Remote.Service = args[1]
	}

	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}
	set("interface", func() (e error) { cfg.Tun.Name, e = flags.GetString("interface"); return })
	set("queues", func() (e error) { cfg.Tun.Queues, e = flags.GetInt("queues"); return })
	set("mtu", func() (e error) { cfg.Tun.MTU, e = flags.GetInt("mtu"); return })
	set("address", func() (e error) { cfg.Tun.Address, e = flags.GetString("address"); return })
	set("no-up", func() error {
		noUp, e := flags.GetBool("no-up")
		cfg.Tun.Up = !noUp
		return e
	})
	set("family", func() (e error) { cfg.Remote.Family, e = flags.GetString("family"); return })
	set("local", func() (e error) { cfg.Local.Host, e = flags.GetString("local"); return })
	set("local-port", func() (e error) { cfg.Local.Service, e = flags.GetString("local-port"); return })
	set("dns", func() (e error) { cfg.Resolver.Server, e = flags.GetString("dns"); return })
	set("stats-interval", func() (e error) { cfg.Stats.Interval, e = flags.GetDuration("stats-interval"); return })
	return err
}

// fillRemoteFromSettings falls back to the remote of the previous session.
func fillRemoteFromSettings(ctx context.Context, store storage.Storage, cfg *config.Config) error {
	if cfg.Remote.Host != "" && cfg.Remote.Service != "" {
		return nil
	}
	settings, err := store.GetAllSettings(ctx)
	if err != nil {
		return err
	}
	if cfg.Remote.Host == "" {
		cfg.Remote.Host = settings[storage.SettingLastRemoteHost]
	}
	if cfg.Remote.Service == "" {
		cfg.Remote.Service = settings[storage.SettingLastRemoteService]
	}
	return nil
}

func clientConfig(cfg *config.Config) client.Config {
	return client.Config{
		Tun:        cfg.TunSettings(),
		Remote:     cfg.RemoteQuery(),
		Local:      cfg.LocalQuery(),
		BufferSize: cfg.UDP.BufferSize,
		MaxEvents:  cfg.Loop.MaxEvents,
	}
}

// newResolver uses the configured DNS server, or the system resolver.
func newResolver(cfg *config.Config) *resolver.Resolver {
	if cfg.Resolver.Server != "" {
		return resolver.New(resolver.NewDNSLookuper(cfg.Resolver.Server))
	}
	return resolver.New(nil)
}

func init() {
	connectCmd.Flags().StringP("interface", "i", tun.DefaultName, "TUN interface name")
	connectCmd.Flags().IntP("queues", "q", tun.DefaultQueues, "number of TUN queues")
	connectCmd.Flags().Int("mtu", tun.DefaultMTU, "interface MTU")
	connectCmd.Flags().StringP("address", "a", "", "interface address in CIDR form, e.g. 10.8.0.2/24")
	connectCmd.Flags().Bool("no-up", false, "leave the interface down")
	connectCmd.Flags().StringP("family", "f", config.FamilyAny, "remote address family (any, ipv4, ipv6)")
	connectCmd.Flags().String("local", "", "local address to bind the UDP socket to")
	connectCmd.Flags().String("local-port", "", "local UDP port to bind")
	connectCmd.Flags().String("dns", "", "DNS server used to resolve the remote (host[:port])")
	connectCmd.Flags().Duration("stats-interval", 0, "traffic sampling interval")

	connectCmd.RegisterFlagCompletionFunc("family", completeFamilies)

	rootCmd.AddCommand(connectCmd)
}
