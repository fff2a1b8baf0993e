package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mouse/internal/config"
	"mouse/internal/storage"
	"mouse/internal/storage/models"
	"mouse/internal/storage/sqlite"
)

// run executes the root command against throwaway state.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", dir)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--db", filepath.Join(dir, "mouse.db"),
		"--log-level", "error",
	}, args...))
	err := rootCmd.Execute()
	closeApp()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	require.Equal(t, "mouse dev\n", out)
}

func TestStatusNotConnected(t *testing.T) {
	out, err := run(t, t.TempDir(), "status")
	require.NoError(t, err)
	require.Contains(t, out, "Not connected")
}

func TestHistoryListsSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "mouse.db"))
	require.NoError(t, err)
	s := &models.Session{Interface: "mouse", Queues: 2, Remote: "192.0.2.1:51820", PID: -1, TxBytes: 10}
	require.NoError(t, db.CreateSession(ctx, s))
	s.ExitError = "event loop failed"
	require.NoError(t, db.FinishSession(ctx, s))
	require.NoError(t, db.Close())

	out, err := run(t, dir, "history", "--limit", "5")
	require.NoError(t, err)
	require.Contains(t, out, "192.0.2.1:51820")
	require.Contains(t, out, "failed: event loop failed")
	require.Contains(t, out, "Total: 1 sessions")

	out, err = run(t, dir, "status")
	require.NoError(t, err)
	require.Contains(t, out, "Not connected")
	require.Contains(t, out, "192.0.2.1:51820")
}

func TestResolveNumeric(t *testing.T) {
	out, err := run(t, t.TempDir(), "resolve", "127.0.0.1", "51820", "--numeric")
	require.NoError(t, err)
	require.Contains(t, out, "127.0.0.1:51820")
	require.Contains(t, out, "(used)")
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "config", "init", "--remote", "vpn.example", "--port", "51820")
	require.NoError(t, err)
	require.Contains(t, out, "Wrote")

	_, err = run(t, dir, "config", "init")
	require.Error(t, err)

	out, err = run(t, dir, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "host: vpn.example")

	out, err = run(t, dir, "config", "validate")
	require.NoError(t, err)
	require.Contains(t, out, "Config OK")
}

func TestApplyConnectArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Host = "from-file"
	require.NoError(t, connectCmd.Flags().Set("queues", "4"))
	require.NoError(t, connectCmd.Flags().Set("no-up", "true"))
	require.NoError(t, connectCmd.Flags().Set("stats-interval", "5s"))

	require.NoError(t, applyConnectArgs(connectCmd, []string{"vpn.example", "51820"}, cfg))
	require.Equal(t, "vpn.example", cfg.Remote.Host)
	require.Equal(t, "51820", cfg.Remote.Service)
	require.Equal(t, 4, cfg.Tun.Queues)
	require.False(t, cfg.Tun.Up)
	require.Equal(t, 5*time.Second, cfg.Stats.Interval)
	// Unset flags keep the file's values.
	require.Equal(t, 1500, cfg.Tun.MTU)
	require.Equal(t, "mouse", cfg.Tun.Name)

	cc := clientConfig(cfg)
	require.Equal(t, 4, cc.Tun.Queues)
	require.Nil(t, cc.Local)
	require.Equal(t, 1024, cc.MaxEvents)
}

func TestFillRemoteFromSettings(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "mouse.db"))
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Default()
	require.NoError(t, fillRemoteFromSettings(ctx, db, cfg))
	require.Empty(t, cfg.Remote.Host)

	require.NoError(t, db.SetSetting(ctx, storage.SettingLastRemoteHost, "vpn.example"))
	require.NoError(t, db.SetSetting(ctx, storage.SettingLastRemoteService, "51820"))

	cfg.Remote.Service = "9000"
	require.NoError(t, fillRemoteFromSettings(ctx, db, cfg))
	require.Equal(t, "vpn.example", cfg.Remote.Host)
	require.Equal(t, "9000", cfg.Remote.Service)
}

func TestSplitRemote(t *testing.T) {
	tests := []struct {
		remote, host, port string
	}{
		{"192.0.2.1:51820", "192.0.2.1", "51820"},
		{"[2001:db8::1]:443", "2001:db8::1", "443"},
		{"nohost", "nohost", ""},
	}
	for _, tt := range tests {
		host, port := splitRemote(tt.remote)
		require.Equal(t, tt.host, host, tt.remote)
		require.Equal(t, tt.port, port, tt.remote)
	}
}

func TestRenderStatus(t *testing.T) {
	var out bytes.Buffer
	s := &models.Session{ID: 3, Interface: "mouse", Queues: 16, Remote: "192.0.2.1:51820", PID: 99, StartedAt: time.Now()}
	renderStatus(&out, s, nil)
	require.Contains(t, out.String(), "Connected")
	require.Contains(t, out.String(), "not bound yet")
	require.Contains(t, out.String(), "no samples yet")

	out.Reset()
	s.Local = "0.0.0.0:40000"
	renderStatus(&out, s, &models.Sample{TxPackets: 5, TxBytes: 500, Dropped: 2, Errors: 1, TakenAt: time.Now()})
	require.Contains(t, out.String(), "5 packets, 500 bytes")
	require.Contains(t, out.String(), "0.0.0.0:40000")
	require.Contains(t, out.String(), "Errors")
}
