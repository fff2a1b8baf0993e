// Package resolver turns host/service queries into candidate socket
// addresses and caches the answer for the lifetime of the Resolver.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"strconv"

	"golang.org/x/sys/unix"

	"mouse/internal/netaddr"
	pkgerrors "mouse/pkg/errors"
)

// Flags mirror the getaddrinfo AI_* hint bits that the resolver honours.
type Flags int

const (
	FlagPassive        Flags = 0x1
	FlagNumericHost    Flags = 0x4
	FlagNumericService Flags = 0x400
)

// Query is an immutable resolution request. An empty Host or Service means
// the field is absent. Queries compare field by field with no normalization,
// so "localhost" and "LOCALHOST" are distinct cache keys.
type Query struct {
	Host     string
	Service  string
	Flags    Flags
	Family   int // unix.AF_UNSPEC, unix.AF_INET or unix.AF_INET6
	Type     int // 0, unix.SOCK_DGRAM, unix.SOCK_STREAM or unix.SOCK_RAW
	Protocol int
}

// Lookuper performs the name and service lookups. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// Resolver caches successful answers per Query with no expiry. It is not safe
// for concurrent use; the reactor owns it.
type Resolver struct {
	lookup Lookuper
	cache  map[Query][]netaddr.Address
}

// New returns a Resolver backed by lookup, or by net.DefaultResolver if
// lookup is nil.
func New(lookup Lookuper) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{
		lookup: lookup,
		cache:  make(map[Query][]netaddr.Address),
	}
}

// Resolve returns the candidate addresses for q in the order the backend
// produced them. Failures are returned as *pkgerrors.ResolutionError and are
// not cached.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]netaddr.Address, error) {
	if cached, ok := r.cache[q]; ok {
		return slices.Clone(cached), nil
	}

	if err := validate(q); err != nil {
		return nil, err
	}

	port, err := r.port(ctx, q)
	if err != nil {
		return nil, err
	}
	ips, err := r.hosts(ctx, q)
	if err != nil {
		return nil, err
	}

	addresses := make([]netaddr.Address, 0, len(ips))
	for _, ip := range ips {
		if !familyMatches(q.Family, ip) {
			continue
		}
		addresses = append(addresses, netaddr.FromAddrPort(netip.AddrPortFrom(ip, port)))
	}
	if len(addresses) == 0 {
		return nil, resolutionError(q, pkgerrors.EAINoName, nil)
	}

	r.cache[q] = addresses
	return slices.Clone(addresses), nil
}

// Len returns the number of cached queries.
func (r *Resolver) Len() int { return len(r.cache) }

func validate(q Query) error {
	switch q.Family {
	case unix.AF_UNSPEC, unix.AF_INET, unix.AF_INET6:
	default:
		return resolutionError(q, pkgerrors.EAIFamily, nil)
	}
	switch q.Type {
	case 0, unix.SOCK_DGRAM, unix.SOCK_STREAM, unix.SOCK_RAW:
	default:
		return resolutionError(q, pkgerrors.EAISocket, nil)
	}
	if q.Host == "" && q.Service == "" {
		return resolutionError(q, pkgerrors.EAINoName, nil)
	}
	return nil
}

func (r *Resolver) port(ctx context.Context, q Query) (uint16, error) {
	if q.Service == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(q.Service, 10, 16); err == nil {
		return uint16(n), nil
	}
	if q.Flags&FlagNumericService != 0 {
		return 0, resolutionError(q, pkgerrors.EAINoName, nil)
	}

	network := "tcp"
	if q.Type == unix.SOCK_DGRAM || q.Protocol == unix.IPPROTO_UDP {
		network = "udp"
	}
	port, err := r.lookup.LookupPort(ctx, network, q.Service)
	if err != nil {
		return 0, resolutionError(q, pkgerrors.EAIService, err)
	}
	return uint16(port), nil
}

func (r *Resolver) hosts(ctx context.Context, q Query) ([]netip.Addr, error) {
	if q.Host == "" {
		if q.Flags&FlagPassive != 0 {
			return []netip.Addr{netip.IPv4Unspecified(), netip.IPv6Unspecified()}, nil
		}
		return []netip.Addr{netip.IPv6Loopback(), netip.AddrFrom4([4]byte{127, 0, 0, 1})}, nil
	}

	if ip, err := netip.ParseAddr(q.Host); err == nil {
		if !familyMatches(q.Family, ip) {
			return nil, resolutionError(q, pkgerrors.EAINoName, nil)
		}
		return []netip.Addr{ip}, nil
	}
	if q.Flags&FlagNumericHost != 0 {
		return nil, resolutionError(q, pkgerrors.EAINoName, nil)
	}

	ips, err := r.lookup.LookupNetIP(ctx, lookupNetwork(q.Family), q.Host)
	if err != nil {
		return nil, resolutionError(q, lookupCode(err), err)
	}
	return ips, nil
}

func lookupNetwork(family int) string {
	switch family {
	case unix.AF_INET:
		return "ip4"
	case unix.AF_INET6:
		return "ip6"
	default:
		return "ip"
	}
}

func familyMatches(family int, ip netip.Addr) bool {
	switch family {
	case unix.AF_INET:
		return ip.Is4() || ip.Is4In6()
	case unix.AF_INET6:
		return ip.Is6() && !ip.Is4In6()
	default:
		return true
	}
}

// lookupCode maps a lookup failure onto the getaddrinfo code domain.
func lookupCode(err error) int {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return pkgerrors.EAIFail
	}
	switch {
	case dnsErr.IsNotFound:
		return pkgerrors.EAINoName
	case dnsErr.IsTimeout, dnsErr.IsTemporary:
		return pkgerrors.EAIAgain
	default:
		return pkgerrors.EAIFail
	}
}

func resolutionError(q Query, code int, err error) error {
	return &pkgerrors.ResolutionError{
		Host:    q.Host,
		Service: q.Service,
		Code:    code,
		Err:     err,
	}
}
