package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mouse/internal/config"
	"mouse/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <host> [port]",
	Short: "Show the addresses a remote resolves to",
	Long: `Resolve a host and port the way connect does and print every candidate
in order. The first candidate is the one connect sends to.`,
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: completeRemoteHosts,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *appInstance.Config
		cfg.Remote.Host = args[0]
		cfg.Remote.Service = "0"
		if len(args) > 1 {
			cfg.Remote.Service = args[1]
		}
		if cmd.Flags().Changed("family") {
			cfg.Remote.Family, _ = cmd.Flags().GetString("family")
		}
		if cmd.Flags().Changed("dns") {
			cfg.Resolver.Server, _ = cmd.Flags().GetString("dns")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		q := cfg.RemoteQuery()
		if numeric, _ := cmd.Flags().GetBool("numeric"); numeric {
			q.Flags |= resolver.FlagNumericHost
		}
		if passive, _ := cmd.Flags().GetBool("passive"); passive {
			q.Flags |= resolver.FlagPassive
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		addrs, err := newResolver(&cfg).Resolve(ctx, q)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		backend := "system resolver"
		if cfg.Resolver.Server != "" {
			backend = cfg.Resolver.Server
		}
		fmt.Fprintln(out, titleText.Render(fmt.Sprintf("%s port %s", q.Host, q.Service))+" "+dimText.Render("via "+backend))
		for i, a := range addrs {
			family := "ipv4"
			if a.AddrPort().Addr().Is6() {
				family = "ipv6"
			}
			line := fmt.Sprintf("  %d. %-40s %s", i+1, a.String(), dimText.Render(family))
			if i == 0 {
				line += " " + okText.Render("(used)")
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringP("family", "f", config.FamilyAny, "address family (any, ipv4, ipv6)")
	resolveCmd.Flags().String("dns", "", "DNS server to query instead of the system resolver")
	resolveCmd.Flags().Bool("numeric", false, "require a numeric host, no lookups")
	resolveCmd.Flags().Bool("passive", false, "resolve for binding: an empty host means the wildcard address")
	resolveCmd.Flags().Duration("timeout", 5*time.Second, "lookup timeout")

	resolveCmd.RegisterFlagCompletionFunc("family", completeFamilies)

	rootCmd.AddCommand(resolveCmd)
}
