//go:build linux

package udp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mouse/internal/netaddr"
	pkgerrors "mouse/pkg/errors"
)

func addr(s string) netaddr.Address {
	return netaddr.FromAddrPort(netip.MustParseAddrPort(s))
}

// localPort reports the kernel-assigned port of an explicitly bound socket.
func localPort(t *testing.T, s *Socket) uint16 {
	t.Helper()
	sa, err := unix.Getsockname(s.Fd())
	require.NoError(t, err)
	a, err := netaddr.FromSockaddr(sa)
	require.NoError(t, err)
	return a.AddrPort().Port()
}

func newSocket(t *testing.T, opts ...Option) *Socket {
	t.Helper()
	s := NewSocket(append([]Option{WithReadTimeout(2 * time.Second)}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s
}

// failBind makes bind fail with errno for candidates on the given ports and
// records every descriptor it saw.
func failBind(t *testing.T, failures map[int]unix.Errno) *[]int {
	t.Helper()
	orig := sysBind
	t.Cleanup(func() { sysBind = orig })
	var seen []int
	sysBind = func(fd int, sa unix.Sockaddr) error {
		seen = append(seen, fd)
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			if errno, ok := failures[sa4.Port]; ok {
				return errno
			}
		}
		return orig(fd, sa)
	}
	return &seen
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestUnbound(t *testing.T) {
	s := newSocket(t)
	require.False(t, s.Bound())
	require.Equal(t, -1, s.Fd())

	_, err := s.Address()
	require.ErrorIs(t, err, pkgerrors.ErrNotBound)
	_, err = s.Read()
	require.ErrorIs(t, err, pkgerrors.ErrNotBound)
}

func TestBind(t *testing.T) {
	s := newSocket(t)
	require.NoError(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	require.True(t, s.Bound())
	require.False(t, s.Ephemeral())

	local, err := s.Address()
	require.NoError(t, err)
	require.True(t, local.Equal(addr("127.0.0.1:0")))
}

func TestDoubleBind(t *testing.T) {
	s := newSocket(t)
	require.NoError(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	fd := s.Fd()

	err := s.Bind([]netaddr.Address{addr("[::1]:0")})
	require.ErrorIs(t, err, pkgerrors.ErrAlreadyBound)
	require.ErrorIs(t, err, unix.EADDRINUSE)

	local, err := s.Address()
	require.NoError(t, err)
	require.True(t, local.Equal(addr("127.0.0.1:0")))
	require.Equal(t, fd, s.Fd())
}

func TestBindNoCandidates(t *testing.T) {
	s := newSocket(t)
	err := s.Bind(nil)
	require.ErrorIs(t, err, pkgerrors.ErrNoCandidates)
	require.ErrorIs(t, err, unix.EINVAL)
	require.False(t, s.Bound())
}

func TestBindFallback(t *testing.T) {
	seen := failBind(t, map[int]unix.Errno{1001: unix.EADDRNOTAVAIL, 1002: unix.EACCES})

	s := newSocket(t)
	err := s.Bind([]netaddr.Address{addr("127.0.0.1:1001"), addr("127.0.0.1:1002"), addr("127.0.0.1:0")})
	require.NoError(t, err)

	local, err := s.Address()
	require.NoError(t, err)
	require.True(t, local.Equal(addr("127.0.0.1:0")))

	require.Len(t, *seen, 3)
	require.False(t, isOpen((*seen)[0]) && (*seen)[0] != s.Fd())
	require.False(t, isOpen((*seen)[1]) && (*seen)[1] != s.Fd())
}

func TestBindAllFailReturnsLastError(t *testing.T) {
	seen := failBind(t, map[int]unix.Errno{1001: unix.EADDRNOTAVAIL, 1002: unix.EACCES})

	s := newSocket(t)
	err := s.Bind([]netaddr.Address{addr("127.0.0.1:1001"), addr("127.0.0.1:1002")})
	require.ErrorIs(t, err, unix.EACCES)
	require.NotErrorIs(t, err, unix.EADDRNOTAVAIL)

	var osErr *pkgerrors.OsError
	require.ErrorAs(t, err, &osErr)
	require.Equal(t, "bind", osErr.Op)

	require.False(t, s.Bound())
	require.Equal(t, -1, s.Fd())
	for _, fd := range *seen {
		require.False(t, isOpen(fd))
	}
}

func TestBindSkipsInvalidCandidate(t *testing.T) {
	s := newSocket(t)
	require.NoError(t, s.Bind([]netaddr.Address{{}, addr("127.0.0.1:0")}))
	require.True(t, s.Bound())
}

func TestEphemeralWrite(t *testing.T) {
	peer := newSocket(t)
	require.NoError(t, peer.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	dst := netaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), localPort(t, peer)))

	s := newSocket(t)
	require.NoError(t, s.Write(Message{Address: dst, Data: []byte("ping")}))
	require.True(t, s.Bound())
	require.True(t, s.Ephemeral())

	local, err := s.Address()
	require.NoError(t, err)
	require.False(t, local.IsZero())
	require.NotZero(t, local.AddrPort().Port())

	// A second write reuses the descriptor.
	fd := s.Fd()
	require.NoError(t, s.Write(Message{Address: dst, Data: []byte("ping")}))
	require.Equal(t, fd, s.Fd())

	again, err := s.Address()
	require.NoError(t, err)
	require.True(t, local.Equal(again))
}

func TestNonblockingEphemeralWrite(t *testing.T) {
	peer := newSocket(t)
	require.NoError(t, peer.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	dst := netaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), localPort(t, peer)))

	s := NewSocket(WithNonblocking())
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Write(Message{Address: dst, Data: []byte("ping")}))

	flags, err := unix.FcntlInt(uintptr(s.Fd()), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.NotZero(t, flags&unix.O_NONBLOCK)

	_, err = s.Read()
	require.ErrorIs(t, err, unix.EAGAIN)

	msg, err := peer.Read()
	require.NoError(t, err)
	require.Equal(t, "ping", string(msg.Data))
}

func TestBlockingByDefault(t *testing.T) {
	s := newSocket(t)
	require.NoError(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}))

	flags, err := unix.FcntlInt(uintptr(s.Fd()), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.Zero(t, flags&unix.O_NONBLOCK)
}

func TestWriteInvalidAddressLeavesSocketUnchanged(t *testing.T) {
	s := newSocket(t)
	err := s.Write(Message{Data: []byte("ping")})
	require.ErrorIs(t, err, pkgerrors.ErrInvalidAddress)
	require.False(t, s.Bound())
	require.False(t, s.Ephemeral())
	require.Equal(t, -1, s.Fd())

	_, err = s.Address()
	require.ErrorIs(t, err, pkgerrors.ErrNotBound)
}

func TestEcho(t *testing.T) {
	a := newSocket(t)
	require.NoError(t, a.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	x := netaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), localPort(t, a)))

	b := newSocket(t)
	require.NoError(t, b.Write(Message{Address: x, Data: []byte("hello")}))

	msg, err := a.Read()
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg.Data))

	// b sent from the wildcard address, so only the port and the loopback
	// source are comparable.
	bLocal, err := b.Address()
	require.NoError(t, err)
	require.Equal(t, bLocal.AddrPort().Port(), msg.Address.AddrPort().Port())
	require.True(t, msg.Address.AddrPort().Addr().IsLoopback())

	require.NoError(t, a.Write(msg))

	reply, err := b.Read()
	require.NoError(t, err)
	require.Equal(t, "hello", string(reply.Data))
	require.True(t, reply.Address.Equal(x))
}

func TestReadTimeout(t *testing.T) {
	s := newSocket(t, WithReadTimeout(50*time.Millisecond))
	require.NoError(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}))

	_, err := s.Read()
	require.ErrorIs(t, err, unix.EAGAIN)
}

func TestBufferSizeTruncates(t *testing.T) {
	a := newSocket(t, WithBufferSize(4))
	require.NoError(t, a.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	x := netaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), localPort(t, a)))

	b := newSocket(t)
	require.NoError(t, b.Write(Message{Address: x, Data: []byte("hello")}))

	msg, err := a.Read()
	require.NoError(t, err)
	require.Equal(t, "hell", string(msg.Data))
}

func TestClose(t *testing.T) {
	s := NewSocket()
	require.NoError(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}))
	fd := s.Fd()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.False(t, isOpen(fd))

	require.ErrorIs(t, s.Bind([]netaddr.Address{addr("127.0.0.1:0")}), pkgerrors.ErrClosed)
	require.ErrorIs(t, s.Write(Message{Address: addr("127.0.0.1:9")}), pkgerrors.ErrClosed)
	_, err := s.Read()
	require.ErrorIs(t, err, pkgerrors.ErrClosed)
}
