package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mouse/internal/resolver"
	pkgerrors "mouse/pkg/errors"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, "mouse", cfg.Tun.Name)
	require.Equal(t, 16, cfg.Tun.Queues)
	require.Equal(t, 1024, cfg.Loop.MaxEvents)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
tun:
  queues: 4
  address: 10.8.0.2/24
remote:
  host: vpn.example
  service: "51820"
  family: ipv6
stats:
  interval: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "mouse", cfg.Tun.Name)
	require.Equal(t, 4, cfg.Tun.Queues)
	require.Equal(t, 1500, cfg.Tun.MTU)
	require.True(t, cfg.Tun.Up)
	require.Equal(t, 5*time.Second, cfg.Stats.Interval)

	q := cfg.RemoteQuery()
	require.Equal(t, resolver.Query{
		Host:     "vpn.example",
		Service:  "51820",
		Family:   unix.AF_INET6,
		Type:     unix.SOCK_DGRAM,
		Protocol: unix.IPPROTO_UDP,
	}, q)
	require.Nil(t, cfg.LocalQuery())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "tun: [unclosed"))
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Remote.Host = "192.0.2.1"
	cfg.Remote.Service = "9000"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLocalQuery(t *testing.T) {
	cfg := Default()
	cfg.Local.Host = "0.0.0.0"
	q := cfg.LocalQuery()
	require.NotNil(t, q)
	require.Equal(t, "0", q.Service)
	require.Equal(t, resolver.FlagPassive, q.Flags)

	cfg.Local = LocalConfig{Service: "51820"}
	q = cfg.LocalQuery()
	require.Equal(t, "", q.Host)
	require.Equal(t, "51820", q.Service)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Remote.Host = "vpn.example"
		cfg.Remote.Service = "51820"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"tun.name", func(c *Config) { c.Tun.Name = "" }},
		{"tun.name", func(c *Config) { c.Tun.Name = "sixteen-bytes-xx" }},
		{"tun.queues", func(c *Config) { c.Tun.Queues = 0 }},
		{"tun.mtu", func(c *Config) { c.Tun.MTU = 575 }},
		{"tun.mtu", func(c *Config) { c.Tun.MTU = 65536 }},
		{"tun.address", func(c *Config) { c.Tun.Address = "10.8.0.2" }},
		{"remote.host", func(c *Config) { c.Remote.Host = "" }},
		{"remote.service", func(c *Config) { c.Remote.Service = "" }},
		{"remote.family", func(c *Config) { c.Remote.Family = "ipx" }},
		{"udp.buffer_size", func(c *Config) { c.UDP.BufferSize = 0 }},
		{"loop.max_events", func(c *Config) { c.Loop.MaxEvents = 0 }},
		{"stats.interval", func(c *Config) { c.Stats.Interval = time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, pkgerrors.ErrConfigInvalid)

			var cerr *pkgerrors.ConfigError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestFamilyAliases(t *testing.T) {
	for name, want := range map[string]int{"": unix.AF_UNSPEC, "ANY": unix.AF_UNSPEC, "4": unix.AF_INET, "inet6": unix.AF_INET6} {
		got, err := familyOf(name)
		require.NoError(t, err)
		require.Equal(t, want, got, name)
	}
}
