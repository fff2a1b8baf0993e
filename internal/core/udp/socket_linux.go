//go:build linux

// Package udp wraps a raw UDP descriptor with explicit multi-candidate bind
// and implicit (ephemeral) bind on first send.
package udp

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"mouse/internal/netaddr"
	pkgerrors "mouse/pkg/errors"
)

// DefaultBufferSize is the receive buffer size when none is configured.
const DefaultBufferSize = 4096

// sysBind is swapped in tests to fail individual candidates.
var sysBind = unix.Bind

// Message is one datagram: its peer address and payload. Data returned by
// Read borrows the socket buffer and is valid until the next Read.
type Message struct {
	Address netaddr.Address
	Data    []byte
}

// Socket owns at most one UDP descriptor. It is not safe for concurrent use.
type Socket struct {
	fd          int
	bound       bool
	ephemeral   bool
	closed      bool
	address     netaddr.Address
	buffer      []byte
	readTimeout time.Duration
	nonblocking bool
}

// Option configures a Socket.
type Option func(*Socket)

// WithBufferSize sets the receive buffer size.
func WithBufferSize(n int) Option {
	return func(s *Socket) {
		if n > 0 {
			s.buffer = make([]byte, n)
		}
	}
}

// WithReadTimeout makes Read fail with EAGAIN after d without data.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Socket) { s.readTimeout = d }
}

// WithNonblocking opens the descriptor in non-blocking mode, so neither the
// first implicit-bind Write nor any Read can block the caller.
func WithNonblocking() Option {
	return func(s *Socket) { s.nonblocking = true }
}

// NewSocket returns an unbound socket. No descriptor is opened until Bind or
// the first Write.
func NewSocket(opts ...Option) *Socket {
	s := &Socket{fd: -1}
	for _, opt := range opts {
		opt(s)
	}
	if s.buffer == nil {
		s.buffer = make([]byte, DefaultBufferSize)
	}
	return s
}

// Bind tries each candidate in order and keeps the first that binds. When all
// fail, the error from the last candidate is returned.
func (s *Socket) Bind(candidates []netaddr.Address) error {
	if s.closed {
		return pkgerrors.ErrClosed
	}
	if s.bound {
		return pkgerrors.ErrAlreadyBound
	}
	if len(candidates) == 0 {
		return pkgerrors.ErrNoCandidates
	}

	var lastErr error
	for _, candidate := range candidates {
		fd, err := s.bindOne(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		s.fd = fd
		s.address = candidate
		s.bound = true
		s.ephemeral = false
		return nil
	}
	return lastErr
}

func (s *Socket) bindOne(candidate netaddr.Address) (int, error) {
	sa, err := candidate.Sockaddr()
	if err != nil {
		return -1, err
	}
	fd, err := s.open(candidate.Family())
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, pkgerrors.NewOsError("setsockopt SO_REUSEADDR", err)
	}
	if err := sysBind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, pkgerrors.NewOsError("bind", err)
	}
	return fd, nil
}

func (s *Socket) open(family int) (int, error) {
	typ := unix.SOCK_DGRAM | unix.SOCK_CLOEXEC
	if s.nonblocking {
		typ |= unix.SOCK_NONBLOCK
	}
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return -1, pkgerrors.NewOsError("socket", err)
	}
	if s.readTimeout > 0 {
		tv := unix.NsecToTimeval(s.readTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return -1, pkgerrors.NewOsError("setsockopt SO_RCVTIMEO", err)
		}
	}
	return fd, nil
}

// Read receives one datagram.
func (s *Socket) Read() (Message, error) {
	if s.closed {
		return Message{}, pkgerrors.ErrClosed
	}
	if s.fd == -1 {
		return Message{}, pkgerrors.ErrNotBound
	}
	for {
		n, from, err := unix.Recvfrom(s.fd, s.buffer, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Message{}, pkgerrors.NewOsError("recvfrom", err)
		}
		addr, err := netaddr.FromSockaddr(from)
		if err != nil {
			return Message{}, err
		}
		return Message{Address: addr, Data: s.buffer[:n]}, nil
	}
}

// Write sends msg.Data to msg.Address. An unbound socket opens a descriptor
// for the destination family and lets the kernel pick the local port.
func (s *Socket) Write(msg Message) error {
	if s.closed {
		return pkgerrors.ErrClosed
	}
	sa, err := msg.Address.Sockaddr()
	if err != nil {
		return err
	}

	if !s.bound {
		fd, err := s.open(msg.Address.Family())
		if err != nil {
			return err
		}
		if err := sendto(fd, msg.Data, sa); err != nil {
			unix.Close(fd)
			return err
		}
		s.fd = fd
		s.bound = true
		s.ephemeral = true
		return nil
	}

	return sendto(s.fd, msg.Data, sa)
}

func sendto(fd int, data []byte, sa unix.Sockaddr) error {
	for {
		err := unix.Sendto(fd, data, 0, sa)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return pkgerrors.NewOsError("sendto", err)
	}
}

// Address returns the local address. For an ephemeral socket the kernel
// chose the port, so it is looked up on every call.
func (s *Socket) Address() (netaddr.Address, error) {
	if s.closed {
		return netaddr.Address{}, pkgerrors.ErrClosed
	}
	if !s.bound {
		return netaddr.Address{}, pkgerrors.ErrNotBound
	}
	if s.ephemeral {
		sa, err := unix.Getsockname(s.fd)
		if err != nil {
			return netaddr.Address{}, pkgerrors.NewOsError("getsockname", err)
		}
		addr, err := netaddr.FromSockaddr(sa)
		if err != nil {
			return netaddr.Address{}, err
		}
		s.address = addr
	}
	return s.address, nil
}

// Fd returns the descriptor, or -1 before the socket is bound.
func (s *Socket) Fd() int { return s.fd }

// Bound reports whether the socket has a local address.
func (s *Socket) Bound() bool { return s.bound }

// Ephemeral reports whether the socket was bound implicitly by Write.
func (s *Socket) Ephemeral() bool { return s.ephemeral }

// Close releases the descriptor. Calling Close more than once is a no-op.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.bound = false
	if s.fd == -1 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return pkgerrors.NewOsError("close", unix.Close(fd))
}
