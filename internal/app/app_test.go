package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mouse/internal/storage/models"
	"mouse/internal/storage/sqlite"
)

func TestNewUsesExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("remote:\n  host: vpn.example\n  service: \"51820\"\nlog:\n  level: debug\n"), 0644))

	a, err := New(Options{ConfigPath: cfgPath, DBPath: filepath.Join(dir, "mouse.db")})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "vpn.example", a.Config.Remote.Host)
	require.Equal(t, 16, a.Config.Tun.Queues)
	require.Empty(t, a.Paths.Log)
	require.True(t, a.Logger.Enabled(context.Background(), slog.LevelDebug))

	sessions, err := a.Storage.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestNewRecoversStaleSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mouse.db")

	db, err := sqlite.New(dbPath)
	require.NoError(t, err)
	// No process has a negative pid.
	require.NoError(t, db.CreateSession(ctx, &models.Session{Interface: "mouse", Queues: 1, Remote: "x", PID: -1}))
	require.NoError(t, db.Close())

	a, err := New(Options{ConfigPath: filepath.Join(dir, "absent.yaml"), DBPath: dbPath, LogLevel: "error"})
	require.NoError(t, err)
	defer a.Close()

	active, err := a.Storage.GetActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestNewRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{ConfigPath: filepath.Join(dir, "absent.yaml"), DBPath: filepath.Join(dir, "mouse.db"), LogLevel: "shout"})
	require.Error(t, err)
}
