// Package netaddr holds the family-agnostic socket address used by the
// tunnel core. An Address is the raw kernel sockaddr bytes plus their valid
// length, so it can be handed to bind/sendto unchanged and compared byte-wise.
package netaddr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"

	pkgerrors "mouse/pkg/errors"
)

// StorageSize is the capacity of an Address, matching sockaddr_storage.
const StorageSize = 128

const (
	sizeofSockaddrInet4 = 16
	sizeofSockaddrInet6 = 28
)

// Address is a raw socket address. The zero value has zero length and is
// rejected by every operation that binds or sends.
type Address struct {
	storage [StorageSize]byte
	length  uint8
}

// New copies raw sockaddr bytes into an Address.
func New(raw []byte) (Address, error) {
	var a Address
	if len(raw) < 2 || len(raw) > StorageSize {
		return a, fmt.Errorf("%w: sockaddr length %d", pkgerrors.ErrInvalidAddress, len(raw))
	}
	copy(a.storage[:], raw)
	a.length = uint8(len(raw))
	return a, nil
}

// FromSockaddr converts a unix.Sockaddr into its binary form.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	var a Address
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		binary.NativeEndian.PutUint16(a.storage[0:], unix.AF_INET)
		binary.BigEndian.PutUint16(a.storage[2:], uint16(sa.Port))
		copy(a.storage[4:8], sa.Addr[:])
		a.length = sizeofSockaddrInet4
	case *unix.SockaddrInet6:
		binary.NativeEndian.PutUint16(a.storage[0:], unix.AF_INET6)
		binary.BigEndian.PutUint16(a.storage[2:], uint16(sa.Port))
		copy(a.storage[8:24], sa.Addr[:])
		binary.NativeEndian.PutUint32(a.storage[24:], sa.ZoneId)
		a.length = sizeofSockaddrInet6
	default:
		return a, fmt.Errorf("%w: unsupported sockaddr %T", pkgerrors.ErrInvalidAddress, sa)
	}
	return a, nil
}

// FromAddrPort converts a parsed address and port. Numeric IPv6 zones become
// the scope id; named zones are dropped.
func FromAddrPort(ap netip.AddrPort) Address {
	ip := ap.Addr()
	if ip.Is4() || ip.Is4In6() {
		a, _ := FromSockaddr(&unix.SockaddrInet4{Port: int(ap.Port()), Addr: ip.Unmap().As4()})
		return a
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		if id, err := strconv.ParseUint(zone, 10, 32); err == nil {
			sa.ZoneId = uint32(id)
		}
	}
	a, _ := FromSockaddr(sa)
	return a
}

// Sockaddr converts the Address back into a unix.Sockaddr for syscalls.
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch {
	case a.Family() == unix.AF_INET && a.length >= sizeofSockaddrInet4:
		sa := &unix.SockaddrInet4{Port: int(binary.BigEndian.Uint16(a.storage[2:]))}
		copy(sa.Addr[:], a.storage[4:8])
		return sa, nil
	case a.Family() == unix.AF_INET6 && a.length >= sizeofSockaddrInet6:
		sa := &unix.SockaddrInet6{
			Port:   int(binary.BigEndian.Uint16(a.storage[2:])),
			ZoneId: binary.NativeEndian.Uint32(a.storage[24:]),
		}
		copy(sa.Addr[:], a.storage[8:24])
		return sa, nil
	default:
		return nil, pkgerrors.ErrInvalidAddress
	}
}

// AddrPort returns the parsed form, or the zero AddrPort if the family is
// not IPv4 or IPv6.
func (a Address) AddrPort() netip.AddrPort {
	sa, err := a.Sockaddr()
	if err != nil {
		return netip.AddrPort{}
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			ip = ip.WithZone(strconv.FormatUint(uint64(sa.ZoneId), 10))
		}
		return netip.AddrPortFrom(ip, uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// Family returns the address family, or AF_UNSPEC for the zero Address.
func (a Address) Family() int {
	if a.length < 2 {
		return unix.AF_UNSPEC
	}
	return int(binary.NativeEndian.Uint16(a.storage[0:]))
}

// Len returns the number of valid bytes.
func (a Address) Len() int { return int(a.length) }

// Bytes returns a copy of the valid bytes.
func (a Address) Bytes() []byte {
	return bytes.Clone(a.storage[:a.length])
}

// IsZero reports whether a was never set.
func (a Address) IsZero() bool { return a.length == 0 }

// Equal compares family, length and the valid bytes.
func (a Address) Equal(b Address) bool {
	if a.Family() != b.Family() || a.length != b.length {
		return false
	}
	return bytes.Equal(a.storage[:a.length], b.storage[:b.length])
}

func (a Address) String() string {
	if a.IsZero() {
		return "<unset>"
	}
	if ap := a.AddrPort(); ap.IsValid() {
		return ap.String()
	}
	return fmt.Sprintf("family=%d len=%d", a.Family(), a.length)
}
