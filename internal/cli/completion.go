package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"mouse/internal/config"
	"mouse/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	return initApp(cmd)
}

// completeRemoteHosts offers the hosts of earlier sessions for the first
// argument and the matching ports for the second.
func completeRemoteHosts(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx := context.Background()
	sessions, err := appInstance.Storage.ListSessions(ctx, 50)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	seen := make(map[string]bool)
	var completions []string
	add := func(candidate string) {
		if candidate == "" || seen[candidate] {
			return
		}
		if strings.HasPrefix(strings.ToLower(candidate), strings.ToLower(toComplete)) {
			seen[candidate] = true
			completions = append(completions, candidate)
		}
	}

	if len(args) == 0 {
		if host, err := appInstance.Storage.GetSetting(ctx, storage.SettingLastRemoteHost); err == nil {
			add(host)
		}
		for _, s := range sessions {
			host, _ := splitRemote(s.Remote)
			add(host)
		}
	} else {
		if port, err := appInstance.Storage.GetSetting(ctx, storage.SettingLastRemoteService); err == nil {
			add(port)
		}
		for _, s := range sessions {
			if host, port := splitRemote(s.Remote); host == args[0] {
				add(port)
			}
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// splitRemote splits a stored "host:port" or "[v6]:port" remote.
func splitRemote(remote string) (host, port string) {
	i := strings.LastIndexByte(remote, ':')
	if i < 0 {
		return remote, ""
	}
	host, port = remote[:i], remote[i+1:]
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"), port
}

// completeFamilies completes --family flags.
func completeFamilies(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{config.FamilyAny, config.FamilyIPv4, config.FamilyIPv6}, cobra.ShellCompDirectiveNoFileComp
}
