//go:build linux

// Package eventloop is a single-goroutine epoll reactor. Descriptors are
// registered with an interest mask and a callback; Run waits for readiness
// and dispatches each ready descriptor's callback once per batch.
package eventloop

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	pkgerrors "mouse/pkg/errors"
)

// Events is a readiness bitmask.
type Events uint32

const (
	Readable      Events = unix.EPOLLIN
	Writable      Events = unix.EPOLLOUT
	Error         Events = unix.EPOLLERR
	Hangup        Events = unix.EPOLLHUP
	EdgeTriggered Events = unix.EPOLLET
)

// DefaultMaxEvents bounds the number of events taken per wait.
const DefaultMaxEvents = 1024

// Handler is invoked on the loop goroutine with the observed readiness.
type Handler func(events Events)

type registration struct {
	handler Handler
	removed bool
}

// Loop owns an epoll instance and the descriptor to callback table. Add,
// Remove and Modify must be called before Run or from inside a callback.
// Stop and Close may be called from any goroutine.
type Loop struct {
	epfd      int
	wakefd    int
	maxEvents int

	handlers map[int]*registration
	pending  []int
	// Descriptors removed since the current batch was collected. Their
	// remaining events belong to the old registration and are skipped even
	// if the fd has been added again.
	removedInBatch map[int]struct{}

	stopOnce sync.Once
	stopErr  error
	closed   bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxEvents sets how many events one wait call may return.
func WithMaxEvents(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxEvents = n
		}
	}
}

// New creates the epoll instance and the internal wake-up descriptor.
func New(opts ...Option) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, pkgerrors.NewOsError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, pkgerrors.NewOsError("eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, pkgerrors.NewOsError("epoll_ctl add", err)
	}

	l := &Loop{
		epfd:      epfd,
		wakefd:    wakefd,
		maxEvents: DefaultMaxEvents,
		handlers:  make(map[int]*registration),

		removedInBatch: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Add registers fd for events with handler.
func (l *Loop) Add(fd int, events Events, handler Handler) error {
	if handler == nil {
		return pkgerrors.NewOsError("epoll_ctl add", unix.EINVAL)
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return pkgerrors.NewOsError("epoll_ctl add", err)
	}
	l.handlers[fd] = &registration{handler: handler}
	return nil
}

// Remove deregisters fd. Its callback is not invoked again, including for
// events already collected in the current batch. A handler added for the
// same fd during that batch only sees events from later waits. The table
// entry itself is dropped after the batch completes.
func (l *Loop) Remove(fd int) error {
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return pkgerrors.NewOsError("epoll_ctl del", err)
	}
	if reg, ok := l.handlers[fd]; ok {
		reg.removed = true
		l.pending = append(l.pending, fd)
	}
	l.removedInBatch[fd] = struct{}{}
	return nil
}

// Modify changes the interest mask of a registered fd.
func (l *Loop) Modify(fd int, events Events) error {
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return pkgerrors.NewOsError("epoll_ctl mod", err)
	}
	return nil
}

// Len returns the number of live registrations.
func (l *Loop) Len() int {
	n := 0
	for _, reg := range l.handlers {
		if !reg.removed {
			n++
		}
	}
	return n
}

// Run waits and dispatches until Stop is called, returning nil, or until
// the wait call fails, returning that error.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, l.maxEvents)
	for {
		l.sweep()

		n, err := unix.EpollWait(l.epfd, events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return pkgerrors.NewOsError("epoll_wait", err)
		}

		clear(l.removedInBatch)
		stopping := false
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakefd {
				stopping = true
				continue
			}
			if _, stale := l.removedInBatch[fd]; stale {
				continue
			}
			reg, ok := l.handlers[fd]
			if !ok || reg.removed {
				continue
			}
			reg.handler(Events(events[i].Events))
		}
		if stopping {
			l.drainWake()
			l.sweep()
			return nil
		}
	}
}

// sweep drops table entries removed during the previous batch. An fd that
// was removed and re-added keeps its new registration.
func (l *Loop) sweep() {
	for _, fd := range l.pending {
		if reg, ok := l.handlers[fd]; ok && reg.removed {
			delete(l.handlers, fd)
		}
	}
	l.pending = l.pending[:0]
}

func (l *Loop) drainWake() {
	var buf [8]byte
	unix.Read(l.wakefd, buf[:])
}

// Stop wakes the loop; Run returns after finishing the current batch.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], 1)
		if _, err := unix.Write(l.wakefd, buf[:]); err != nil {
			l.stopErr = pkgerrors.NewOsError("eventfd write", err)
		}
	})
	return l.stopErr
}

// Close releases the epoll and wake-up descriptors. Registered descriptors
// are not closed; they belong to their owners.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := unix.Close(l.wakefd)
	if cerr := unix.Close(l.epfd); err == nil {
		err = cerr
	}
	return pkgerrors.NewOsError("close", err)
}

// SetNonblock puts fd into non-blocking mode.
func SetNonblock(fd int) error {
	return pkgerrors.NewOsError("fcntl O_NONBLOCK", unix.SetNonblock(fd, true))
}
