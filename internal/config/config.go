// Package config loads the client configuration file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"mouse/internal/core/tun"
	"mouse/internal/resolver"
	pkgerrors "mouse/pkg/errors"
)

// Config is the on-disk configuration.
type Config struct {
	Tun      TunConfig      `yaml:"tun"`
	Remote   RemoteConfig   `yaml:"remote"`
	Local    LocalConfig    `yaml:"local"`
	Resolver ResolverConfig `yaml:"resolver"`
	UDP      UDPConfig      `yaml:"udp"`
	Loop     LoopConfig     `yaml:"loop"`
	Stats    StatsConfig    `yaml:"stats"`
	Log      LogConfig      `yaml:"log"`
}

type TunConfig struct {
	Name    string `yaml:"name"`
	Queues  int    `yaml:"queues"`
	MTU     int    `yaml:"mtu"`
	Address string `yaml:"address"`
	Up      bool   `yaml:"up"`
}

type RemoteConfig struct {
	Host    string `yaml:"host"`
	Service string `yaml:"service"`
	Family  string `yaml:"family"` // any, ipv4 or ipv6
}

// LocalConfig pins the UDP socket to a local address. Leaving both fields
// empty lets the kernel choose on first send.
type LocalConfig struct {
	Host    string `yaml:"host"`
	Service string `yaml:"service"`
}

type ResolverConfig struct {
	Server string `yaml:"server"` // empty uses the system resolver
}

type UDPConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type LoopConfig struct {
	MaxEvents int `yaml:"max_events"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	FamilyAny  = "any"
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Tun: TunConfig{
			Name:   tun.DefaultName,
			Queues: tun.DefaultQueues,
			MTU:    tun.DefaultMTU,
			Up:     true,
		},
		Remote: RemoteConfig{Family: FamilyAny},
		UDP:    UDPConfig{BufferSize: 65535},
		Loop:   LoopConfig{MaxEvents: 1024},
		Stats:  StatsConfig{Interval: 30 * time.Second},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the fields needed to start a tunnel.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return &pkgerrors.ConfigError{
			Field: field,
			Err:   fmt.Errorf("%w: "+format, append([]interface{}{pkgerrors.ErrConfigInvalid}, args...)...),
		}
	}

	if c.Tun.Name == "" || len(c.Tun.Name) >= unix.IFNAMSIZ {
		return invalid("tun.name", "must be 1-%d bytes", unix.IFNAMSIZ-1)
	}
	if c.Tun.Queues < 1 {
		return invalid("tun.queues", "must be at least 1, got %d", c.Tun.Queues)
	}
	if c.Tun.MTU < 576 || c.Tun.MTU > 65535 {
		return invalid("tun.mtu", "must be between 576 and 65535, got %d", c.Tun.MTU)
	}
	if c.Tun.Address != "" {
		if _, err := netip.ParsePrefix(c.Tun.Address); err != nil {
			return invalid("tun.address", "%v", err)
		}
	}
	if c.Remote.Host == "" {
		return invalid("remote.host", "required")
	}
	if c.Remote.Service == "" {
		return invalid("remote.service", "required")
	}
	if _, err := familyOf(c.Remote.Family); err != nil {
		return invalid("remote.family", "%v", err)
	}
	if c.UDP.BufferSize < 1 {
		return invalid("udp.buffer_size", "must be positive")
	}
	if c.Loop.MaxEvents < 1 {
		return invalid("loop.max_events", "must be positive")
	}
	if c.Stats.Interval < time.Second {
		return invalid("stats.interval", "must be at least 1s")
	}
	return nil
}

func familyOf(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", FamilyAny:
		return unix.AF_UNSPEC, nil
	case FamilyIPv4, "4", "inet":
		return unix.AF_INET, nil
	case FamilyIPv6, "6", "inet6":
		return unix.AF_INET6, nil
	default:
		return 0, fmt.Errorf("unknown family %q", name)
	}
}

// TunSettings converts to the TUN layer's settings.
func (c *Config) TunSettings() tun.Config {
	return tun.Config{
		Name:    c.Tun.Name,
		Queues:  c.Tun.Queues,
		MTU:     c.Tun.MTU,
		Address: c.Tun.Address,
		Up:      c.Tun.Up,
	}
}

// RemoteQuery is the resolution request for the remote endpoint.
func (c *Config) RemoteQuery() resolver.Query {
	family, _ := familyOf(c.Remote.Family)
	return resolver.Query{
		Host:     c.Remote.Host,
		Service:  c.Remote.Service,
		Family:   family,
		Type:     unix.SOCK_DGRAM,
		Protocol: unix.IPPROTO_UDP,
	}
}

// LocalQuery is the resolution request for the explicit bind, or nil when
// the socket should bind on first send.
func (c *Config) LocalQuery() *resolver.Query {
	if c.Local.Host == "" && c.Local.Service == "" {
		return nil
	}
	family, _ := familyOf(c.Remote.Family)
	service := c.Local.Service
	if service == "" {
		service = "0"
	}
	return &resolver.Query{
		Host:     c.Local.Host,
		Service:  service,
		Flags:    resolver.FlagPassive,
		Family:   family,
		Type:     unix.SOCK_DGRAM,
		Protocol: unix.IPPROTO_UDP,
	}
}
