//go:build linux

package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newEventfd(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func signal(t *testing.T, fd int) {
	t.Helper()
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(fd, buf[:])
	require.NoError(t, err)
}

func drain(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func runAsync(l *Loop) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	l := newLoop(t)
	done := runAsync(l)

	require.NoError(t, l.Stop())
	require.NoError(t, waitDone(t, done))
}

func TestDispatchPassesReadiness(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)

	var seen Events
	require.NoError(t, l.Add(fd, Readable, func(ev Events) {
		seen = ev
		l.Stop()
	}))
	signal(t, fd)

	require.NoError(t, waitDone(t, runAsync(l)))
	require.NotZero(t, seen&Readable)
	require.Zero(t, seen&Writable)
}

func TestRemovedDuringBatchIsNotDispatched(t *testing.T) {
	l := newLoop(t)
	a := newEventfd(t)
	b := newEventfd(t)

	// Whichever fd the kernel reports first removes the other; the other
	// must not run for the rest of the batch.
	calls := map[int]int{}
	handler := func(self, other int) Handler {
		return func(Events) {
			drain(self)
			calls[self]++
			if calls[self] == 1 {
				assert.NoError(t, l.Remove(other))
				l.Stop()
			}
		}
	}
	require.NoError(t, l.Add(a, Readable, handler(a, b)))
	require.NoError(t, l.Add(b, Readable, handler(b, a)))
	signal(t, a)
	signal(t, b)

	require.NoError(t, waitDone(t, runAsync(l)))
	require.Equal(t, 1, calls[a]+calls[b])
	require.Equal(t, 1, l.Len())
}

func TestRemoveThenReAddKeepsNewHandler(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)
	trigger := newEventfd(t)

	var oldCalls, newCalls int
	require.NoError(t, l.Add(fd, Readable, func(Events) { oldCalls++ }))
	require.NoError(t, l.Add(trigger, Readable, func(Events) {
		assert.NoError(t, l.Remove(fd))
		assert.NoError(t, l.Add(fd, Readable, func(Events) {
			drain(fd)
			newCalls++
			l.Stop()
		}))
		assert.NoError(t, l.Remove(trigger))
	}))
	signal(t, trigger)

	done := runAsync(l)
	// Give the loop one batch to swap handlers before fd becomes ready.
	time.Sleep(50 * time.Millisecond)
	signal(t, fd)

	require.NoError(t, waitDone(t, done))
	require.Zero(t, oldCalls)
	require.Equal(t, 1, newCalls)
}

func TestReAddInSameBatchSkipsStaleEvent(t *testing.T) {
	l := newLoop(t)
	a := newEventfd(t)
	b := newEventfd(t)

	// Both fds are ready in one batch. Whichever runs first swaps the other
	// for a Writable-only handler; the Readable event already collected for
	// it must not reach the new handler.
	var first Events
	newCalls := 0
	swapped := false
	handler := func(self, other int) Handler {
		return func(Events) {
			drain(self)
			if swapped {
				return
			}
			swapped = true
			assert.NoError(t, l.Remove(other))
			assert.NoError(t, l.Add(other, Writable, func(ev Events) {
				newCalls++
				if newCalls == 1 {
					first = ev
				}
				l.Stop()
			}))
		}
	}
	require.NoError(t, l.Add(a, Readable, handler(a, b)))
	require.NoError(t, l.Add(b, Readable, handler(b, a)))
	signal(t, a)
	signal(t, b)

	require.NoError(t, waitDone(t, runAsync(l)))
	require.True(t, swapped)
	require.GreaterOrEqual(t, newCalls, 1)
	require.Zero(t, first&Readable, "new handler saw events=%#x", first)
	require.NotZero(t, first&Writable)
	require.Equal(t, 2, l.Len())
}

func TestModify(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)

	var seen Events
	require.NoError(t, l.Add(fd, Readable, func(ev Events) {
		seen = ev
		l.Stop()
	}))
	// An eventfd with a zero counter is writable but not readable.
	require.NoError(t, l.Modify(fd, Writable))

	require.NoError(t, waitDone(t, runAsync(l)))
	require.NotZero(t, seen&Writable)
}

func TestModifyUnregisteredFails(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)

	require.ErrorIs(t, l.Modify(fd, Readable), unix.ENOENT)
}

func TestRemoveUnregisteredFails(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)

	require.ErrorIs(t, l.Remove(fd), unix.ENOENT)
}

func TestAddErrors(t *testing.T) {
	l := newLoop(t)
	fd := newEventfd(t)

	require.ErrorIs(t, l.Add(fd, Readable, nil), unix.EINVAL)
	require.ErrorIs(t, l.Add(-1, Readable, func(Events) {}), unix.EBADF)

	require.NoError(t, l.Add(fd, Readable, func(Events) {}))
	require.ErrorIs(t, l.Add(fd, Readable, func(Events) {}), unix.EEXIST)
	require.Equal(t, 1, l.Len())
}

func TestEdgeTriggeredFiresOncePerEdge(t *testing.T) {
	l, err := New(WithMaxEvents(4))
	require.NoError(t, err)
	defer l.Close()
	fd := newEventfd(t)
	ticker := newEventfd(t)

	calls := 0
	require.NoError(t, l.Add(fd, Readable|EdgeTriggered, func(Events) { calls++ }))
	// The ticker keeps the loop spinning a few batches without draining fd.
	rounds := 0
	require.NoError(t, l.Add(ticker, Readable, func(Events) {
		rounds++
		drain(ticker)
		if rounds < 3 {
			var buf [8]byte
			buf[0] = 1
			unix.Write(ticker, buf[:])
			return
		}
		l.Stop()
	}))
	signal(t, fd)
	signal(t, ticker)

	require.NoError(t, waitDone(t, runAsync(l)))
	require.Equal(t, 1, calls)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestSetNonblock(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, SetNonblock(fds[0]))
	_, err := unix.Read(fds[0], make([]byte, 1))
	require.ErrorIs(t, err, unix.EAGAIN)

	require.Error(t, SetNonblock(-1))
}
