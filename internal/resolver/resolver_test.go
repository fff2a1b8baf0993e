package resolver

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mouse/internal/netaddr"
	pkgerrors "mouse/pkg/errors"
)

type fakeLookuper struct {
	hosts     map[string][]netip.Addr
	ports     map[string]int
	hostCalls int
	portCalls int
	networks  []string
}

func (f *fakeLookuper) LookupNetIP(_ context.Context, network, host string) ([]netip.Addr, error) {
	f.hostCalls++
	f.networks = append(f.networks, network)
	ips, ok := f.hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

func (f *fakeLookuper) LookupPort(_ context.Context, network, service string) (int, error) {
	f.portCalls++
	port, ok := f.ports[network+"/"+service]
	if !ok {
		return 0, &net.AddrError{Err: "unknown port", Addr: network + "/" + service}
	}
	return port, nil
}

func newFake() *fakeLookuper {
	return &fakeLookuper{
		hosts: map[string][]netip.Addr{
			"tunnel.example": {netip.MustParseAddr("192.0.2.10"), netip.MustParseAddr("2001:db8::10")},
		},
		ports: map[string]int{"udp/domain": 53, "tcp/https": 443},
	}
}

func strs(addrs []netaddr.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var rerr *pkgerrors.ResolutionError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, code, rerr.Code)
}

func TestResolveCaches(t *testing.T) {
	fake := newFake()
	r := New(fake)
	q := Query{Host: "tunnel.example", Service: "5000", Type: unix.SOCK_DGRAM}

	first, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.10:5000", "[2001:db8::10]:5000"}, strs(first))
	require.Equal(t, 1, fake.hostCalls)

	// Change the would-be answer; the cached one must come back.
	fake.hosts["tunnel.example"] = []netip.Addr{netip.MustParseAddr("198.51.100.1")}
	second, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, strs(first), strs(second))
	require.Equal(t, 1, fake.hostCalls)
	require.Equal(t, 1, r.Len())
}

func TestCachedSliceIsNotShared(t *testing.T) {
	r := New(newFake())
	q := Query{Host: "tunnel.example", Service: "1"}

	first, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	first[0] = netaddr.Address{}

	second, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.False(t, second[0].IsZero())
}

func TestQueriesAreNotNormalized(t *testing.T) {
	fake := newFake()
	fake.hosts["TUNNEL.example"] = fake.hosts["tunnel.example"]
	r := New(fake)

	_, err := r.Resolve(context.Background(), Query{Host: "tunnel.example", Service: "1"})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), Query{Host: "TUNNEL.example", Service: "1"})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), Query{Host: "tunnel.example", Service: "1", Type: unix.SOCK_DGRAM})
	require.NoError(t, err)

	require.Equal(t, 3, fake.hostCalls)
	require.Equal(t, 3, r.Len())
}

func TestResolveNotFound(t *testing.T) {
	fake := newFake()
	r := New(fake)
	q := Query{Host: "invalid.host.local", Service: "80"}

	_, err := r.Resolve(context.Background(), q)
	requireCode(t, err, pkgerrors.EAINoName)

	// Failures are not cached.
	_, err = r.Resolve(context.Background(), q)
	require.Error(t, err)
	require.Equal(t, 2, fake.hostCalls)
	require.Zero(t, r.Len())
}

func TestFamilyFilter(t *testing.T) {
	fake := newFake()
	r := New(fake)

	v4, err := r.Resolve(context.Background(), Query{Host: "tunnel.example", Service: "1", Family: unix.AF_INET})
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.10:1"}, strs(v4))

	v6, err := r.Resolve(context.Background(), Query{Host: "tunnel.example", Service: "1", Family: unix.AF_INET6})
	require.NoError(t, err)
	require.Equal(t, []string{"[2001:db8::10]:1"}, strs(v6))

	require.Equal(t, []string{"ip4", "ip6"}, fake.networks)
}

func TestLiteralHosts(t *testing.T) {
	fake := newFake()
	r := New(fake)

	got, err := r.Resolve(context.Background(), Query{Host: "203.0.113.5", Service: "9000", Flags: FlagNumericHost})
	require.NoError(t, err)
	require.Equal(t, []string{"203.0.113.5:9000"}, strs(got))

	_, err = r.Resolve(context.Background(), Query{Host: "tunnel.example", Service: "9000", Flags: FlagNumericHost})
	requireCode(t, err, pkgerrors.EAINoName)

	_, err = r.Resolve(context.Background(), Query{Host: "::1", Service: "1", Family: unix.AF_INET})
	requireCode(t, err, pkgerrors.EAINoName)

	require.Zero(t, fake.hostCalls)
}

func TestServices(t *testing.T) {
	fake := newFake()
	r := New(fake)

	got, err := r.Resolve(context.Background(), Query{Host: "192.0.2.1", Service: "domain", Type: unix.SOCK_DGRAM})
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.1:53"}, strs(got))

	got, err = r.Resolve(context.Background(), Query{Host: "192.0.2.1", Service: "https"})
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.1:443"}, strs(got))

	_, err = r.Resolve(context.Background(), Query{Host: "192.0.2.1", Service: "nope"})
	requireCode(t, err, pkgerrors.EAIService)

	_, err = r.Resolve(context.Background(), Query{Host: "192.0.2.1", Service: "domain", Flags: FlagNumericService})
	requireCode(t, err, pkgerrors.EAINoName)
	require.Equal(t, 3, fake.portCalls)
}

func TestAbsentHost(t *testing.T) {
	r := New(newFake())

	active, err := r.Resolve(context.Background(), Query{Service: "7000"})
	require.NoError(t, err)
	require.Equal(t, []string{"[::1]:7000", "127.0.0.1:7000"}, strs(active))

	passive, err := r.Resolve(context.Background(), Query{Service: "7000", Flags: FlagPassive})
	require.NoError(t, err)
	require.Equal(t, []string{"0.0.0.0:7000", "[::]:7000"}, strs(passive))

	passive4, err := r.Resolve(context.Background(), Query{Service: "7000", Flags: FlagPassive, Family: unix.AF_INET})
	require.NoError(t, err)
	require.Equal(t, []string{"0.0.0.0:7000"}, strs(passive4))
}

func TestInvalidQueries(t *testing.T) {
	r := New(newFake())

	_, err := r.Resolve(context.Background(), Query{})
	requireCode(t, err, pkgerrors.EAINoName)

	_, err = r.Resolve(context.Background(), Query{Host: "::1", Family: unix.AF_UNIX})
	requireCode(t, err, pkgerrors.EAIFamily)

	_, err = r.Resolve(context.Background(), Query{Host: "::1", Type: unix.SOCK_SEQPACKET})
	requireCode(t, err, pkgerrors.EAISocket)
}

func TestLookupCode(t *testing.T) {
	require.Equal(t, pkgerrors.EAINoName, lookupCode(&net.DNSError{IsNotFound: true}))
	require.Equal(t, pkgerrors.EAIAgain, lookupCode(&net.DNSError{IsTimeout: true}))
	require.Equal(t, pkgerrors.EAIAgain, lookupCode(&net.DNSError{IsTemporary: true}))
	require.Equal(t, pkgerrors.EAIFail, lookupCode(&net.DNSError{Err: "server misbehaving"}))
	require.Equal(t, pkgerrors.EAIFail, lookupCode(context.Canceled))
}

func TestSystemLocalhost(t *testing.T) {
	r := New(nil)
	got, err := r.Resolve(context.Background(), Query{Host: "localhost", Service: "80", Type: unix.SOCK_DGRAM})
	if err != nil {
		t.Skipf("system resolver cannot resolve localhost: %v", err)
	}
	require.NotEmpty(t, got)
	for _, a := range got {
		require.True(t, a.AddrPort().Addr().IsLoopback(), a.String())
		require.Equal(t, uint16(80), a.AddrPort().Port())
	}
}
