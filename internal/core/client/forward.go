//go:build linux

package client

import (
	"errors"
	"slices"

	"golang.org/x/sys/unix"

	"mouse/internal/core/eventloop"
	"mouse/internal/core/tun"
	"mouse/internal/core/udp"
)

// Queues are edge triggered, so every handler drains until EAGAIN.
const queueEvents = eventloop.Readable | eventloop.Writable | eventloop.EdgeTriggered

// egress moves packets from one TUN queue to the remote.
func (c *Client) egress(q *tun.Device) eventloop.Handler {
	return func(ev eventloop.Events) {
		if ev&eventloop.Readable == 0 {
			if ev&(eventloop.Error|eventloop.Hangup) != 0 {
				c.dropQueue(q)
			}
			return
		}
		for {
			packet, err := q.Read()
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			if err != nil {
				c.counters.Errors.Add(1)
				c.logger.Debug("queue read failed", "queue", q.Fd(), "error", err)
				return
			}
			if len(packet) == 0 {
				c.dropQueue(q)
				return
			}
			c.send(packet)
		}
	}
}

func (c *Client) send(packet []byte) {
	if _, ok := flowHash(packet); !ok {
		c.counters.TxDropped.Add(1)
		return
	}

	err := c.socket.Write(udp.Message{Address: c.remote, Data: packet})
	switch {
	case err == nil:
		c.counters.Egress(len(packet))
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
		c.counters.TxDropped.Add(1)
	default:
		c.counters.Errors.Add(1)
		c.logger.Debug("send failed", "remote", c.remote.String(), "error", err)
	}

	if !c.ingressRegistered && c.socket.Bound() {
		if err := c.registerIngress(); err != nil {
			c.counters.Errors.Add(1)
			c.logger.Warn("failed to register udp socket", "error", err)
			return
		}
		c.logger.Info("udp socket bound", "local", c.localString())
	}
}

// ingress moves datagrams from the remote into the TUN queue that owns
// their flow.
func (c *Client) ingress(ev eventloop.Events) {
	if ev&eventloop.Readable == 0 {
		return
	}
	for {
		msg, err := c.socket.Read()
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if err != nil {
			c.counters.Errors.Add(1)
			c.logger.Debug("udp read failed", "error", err)
			return
		}
		if !msg.Address.Equal(c.remote) {
			c.counters.RxForeign.Add(1)
			continue
		}

		q := c.queueFor(msg.Data)
		if q == nil {
			c.counters.RxDropped.Add(1)
			continue
		}
		err = q.Write(msg.Data)
		switch {
		case err == nil:
			c.counters.Ingress(len(msg.Data))
		case errors.Is(err, unix.EAGAIN):
			c.counters.RxDropped.Add(1)
		default:
			c.counters.Errors.Add(1)
			c.logger.Debug("queue write failed", "queue", q.Fd(), "error", err)
		}
	}
}

func (c *Client) queueFor(packet []byte) *tun.Device {
	if len(c.active) == 0 {
		return nil
	}
	h, ok := flowHash(packet)
	if !ok {
		return nil
	}
	return c.active[h%uint64(len(c.active))]
}

// dropQueue stops polling a queue that hung up. It stays open until Close.
func (c *Client) dropQueue(q *tun.Device) {
	i := slices.Index(c.active, q)
	if i < 0 {
		return
	}
	c.active = slices.Delete(c.active, i, i+1)
	if err := c.loop.Remove(q.Fd()); err != nil {
		c.logger.Debug("failed to remove queue", "queue", q.Fd(), "error", err)
	}
	c.logger.Warn("TUN queue closed", "queue", q.Fd(), "remaining", len(c.active))
}
