//go:build linux

package tun

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/vishvananda/netlink"
)

// ConfigureLink applies MTU, address and link state from c to the interface
// named c.Name. The interface must already exist, which means at least one
// queue is open. An address that is already assigned is not an error.
func ConfigureLink(c Config) error {
	link, err := netlink.LinkByName(c.Name)
	if err != nil {
		return fmt.Errorf("TUN device '%s' not found: %w", c.Name, err)
	}

	if c.MTU > 0 {
		if err := netlink.LinkSetMTU(link, c.MTU); err != nil {
			return fmt.Errorf("failed to set MTU %d on '%s': %w", c.MTU, c.Name, err)
		}
	}

	if c.Address != "" {
		addr, err := netlink.ParseAddr(c.Address)
		if err != nil {
			return fmt.Errorf("address '%s' is not valid: %w", c.Address, err)
		}
		if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("failed to add address to '%s': %w", c.Name, err)
		}
	}

	if c.Up {
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("failed to bring '%s' up: %w", c.Name, err)
		}
	}
	return nil
}
