//go:build linux

// Package client wires the tunnel core together: it resolves the remote,
// opens the TUN queues and the UDP socket, and moves packets between them
// from the event loop.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"mouse/internal/core/eventloop"
	"mouse/internal/core/tun"
	"mouse/internal/core/types"
	"mouse/internal/core/udp"
	"mouse/internal/netaddr"
	"mouse/internal/resolver"
)

// Config describes one tunnel session.
type Config struct {
	Tun        tun.Config
	Remote     resolver.Query
	Local      *resolver.Query // nil means bind ephemerally on first send
	BufferSize int             // UDP receive buffer
	MaxEvents  int
}

// Client owns every descriptor of a session. Apart from Stop, Status and
// Stats, methods must not be called while Run is active.
type Client struct {
	cfg      Config
	resolver *resolver.Resolver
	logger   *slog.Logger

	loop   *eventloop.Loop
	socket *udp.Socket
	queues []*tun.Device // owned, closed by Close
	active []*tun.Device // still registered, used for ingress selection
	remote netaddr.Address

	ingressRegistered bool
	counters          types.Counters
	local             atomic.Value // string
	running           atomic.Bool
	startedAt         time.Time

	openQueues func(tun.Config) ([]*tun.Device, error)
}

// New creates a client. Nothing is opened until Setup.
func New(cfg Config, res *resolver.Resolver, logger *slog.Logger) *Client {
	if res == nil {
		res = resolver.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		resolver:   res,
		logger:     logger,
		socket:     udp.NewSocket(udp.WithBufferSize(cfg.BufferSize), udp.WithNonblocking()),
		openQueues: openQueues,
	}
}

func openQueues(cfg tun.Config) ([]*tun.Device, error) {
	queues, err := tun.CreateMultiqueue(cfg.Name, cfg.Queues, 0, tun.WithBufferSize(cfg.BufferSize()))
	if err != nil {
		return nil, err
	}
	if err := tun.ConfigureLink(cfg); err != nil {
		tun.CloseAll(queues)
		return nil, err
	}
	return queues, nil
}

// Setup resolves addresses, binds the socket if a local address is
// configured, opens the TUN queues and registers everything with the event
// loop. The first failure aborts setup; Close releases whatever was opened.
func (c *Client) Setup(ctx context.Context) error {
	remotes, err := c.resolver.Resolve(ctx, c.cfg.Remote)
	if err != nil {
		return fmt.Errorf("failed to resolve remote: %w", err)
	}

	if c.cfg.Local != nil {
		locals, err := c.resolver.Resolve(ctx, *c.cfg.Local)
		if err != nil {
			return fmt.Errorf("failed to resolve local address: %w", err)
		}
		if err := c.socket.Bind(locals); err != nil {
			return fmt.Errorf("failed to bind local address: %w", err)
		}
	}
	c.remote = c.pickRemote(remotes)

	c.loop, err = eventloop.New(eventloop.WithMaxEvents(c.cfg.MaxEvents))
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}

	c.queues, err = c.openQueues(c.cfg.Tun)
	if err != nil {
		return fmt.Errorf("failed to create TUN queues: %w", err)
	}
	for _, q := range c.queues {
		if err := eventloop.SetNonblock(q.Fd()); err != nil {
			return fmt.Errorf("queue %d: %w", q.Fd(), err)
		}
		if err := c.loop.Add(q.Fd(), queueEvents, c.egress(q)); err != nil {
			return fmt.Errorf("queue %d: %w", q.Fd(), err)
		}
		c.active = append(c.active, q)
	}

	if c.socket.Bound() {
		if err := c.registerIngress(); err != nil {
			return err
		}
	}

	c.logger.Info("tunnel ready",
		"interface", c.cfg.Tun.Name,
		"queues", len(c.queues),
		"remote", c.remote.String(),
		"local", c.localString(),
	)
	return nil
}

// pickRemote prefers the first candidate in the bound socket's family.
func (c *Client) pickRemote(remotes []netaddr.Address) netaddr.Address {
	if local, err := c.socket.Address(); err == nil {
		for _, r := range remotes {
			if r.Family() == local.Family() {
				return r
			}
		}
	}
	return remotes[0]
}

// registerIngress puts the UDP descriptor into the loop. It runs at setup
// for an explicit bind, or after the first send for an ephemeral one.
func (c *Client) registerIngress() error {
	fd := c.socket.Fd()
	if err := eventloop.SetNonblock(fd); err != nil {
		return fmt.Errorf("udp socket: %w", err)
	}
	if err := c.loop.Add(fd, eventloop.Readable|eventloop.EdgeTriggered, c.ingress); err != nil {
		return fmt.Errorf("udp socket: %w", err)
	}
	c.ingressRegistered = true
	if local, err := c.socket.Address(); err == nil {
		c.local.Store(local.String())
	}
	return nil
}

func (c *Client) localString() string {
	s, _ := c.local.Load().(string)
	return s
}

// Stop makes Run return after the current batch. Safe from any goroutine.
func (c *Client) Stop() error {
	if c.loop == nil {
		return nil
	}
	return c.loop.Stop()
}

// Close releases the queues, the socket and the event loop.
func (c *Client) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(tun.CloseAll(c.queues))
	keep(c.socket.Close())
	if c.loop != nil {
		keep(c.loop.Close())
	}
	return first
}

// Stats returns the traffic counters.
func (c *Client) Stats() types.Stats {
	return c.counters.Snapshot()
}

// Status reports what the session is connected to.
func (c *Client) Status() types.Status {
	s := types.Status{
		Running:   c.running.Load(),
		PID:       os.Getpid(),
		Interface: c.cfg.Tun.Name,
		Queues:    len(c.queues),
		Remote:    c.remote.String(),
		Local:     c.localString(),
	}
	if s.Running {
		s.StartedAt = c.startedAt
		s.Uptime = time.Since(c.startedAt)
	}
	return s
}
