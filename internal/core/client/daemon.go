//go:build linux

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run blocks in the event loop until ctx is cancelled, Stop is called, or
// the loop fails. Setup must have succeeded.
func (c *Client) Run(ctx context.Context) error {
	if c.loop == nil {
		return errors.New("client is not set up")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.startedAt = time.Now()
	c.running.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		defer c.running.Store(false)
		if err := c.loop.Run(); err != nil {
			return fmt.Errorf("event loop failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return c.loop.Stop()
	})

	err := g.Wait()
	stats := c.Stats()
	c.logger.Info("tunnel stopped",
		"uptime", time.Since(c.startedAt).Round(time.Second),
		"tx_packets", stats.TxPackets,
		"rx_packets", stats.RxPackets,
		"errors", stats.Errors,
	)
	return err
}
