//go:build linux

package tun

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	pkgerrors "mouse/pkg/errors"
)

// Flags are the IFF_* bits passed with TUNSETIFF. Every device is opened in
// TUN mode without packet info; callers only add extra bits.
type Flags uint16

const (
	FlagTun        Flags = unix.IFF_TUN
	FlagNoPI       Flags = unix.IFF_NO_PI
	FlagMultiQueue Flags = unix.IFF_MULTI_QUEUE
)

// DefaultBufferSize is the receive buffer used when none is configured. It
// covers a 1500 byte MTU with room to spare.
const DefaultBufferSize = 2000

const cloneDevice = "/dev/net/tun"

// Swapped in tests to inject open and ioctl failures.
var (
	openDevice = func() (int, error) {
		return unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	}
	setInterface = func(fd int, ifr *unix.Ifreq) error {
		return unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr)
	}
)

// Device is one queue of a TUN interface.
type Device struct {
	fd     int
	name   string
	buffer []byte
	closed bool
}

// Option configures a Device.
type Option func(*Device)

// WithBufferSize sets the receive buffer, which bounds the largest packet
// Read can return.
func WithBufferSize(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.buffer = make([]byte, n)
		}
	}
}

// Create opens one queue of interface name. Names longer than IFNAMSIZ-1
// bytes are truncated.
func Create(name string, flags Flags, opts ...Option) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		name = name[:unix.IFNAMSIZ-1]
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return nil, pkgerrors.NewOsError("ifreq "+name, err)
	}
	ifr.SetUint16(uint16(flags | FlagTun | FlagNoPI))

	fd, err := openDevice()
	if err != nil {
		return nil, pkgerrors.NewOsError("open "+cloneDevice, err)
	}
	if err := setInterface(fd, ifr); err != nil {
		unix.Close(fd)
		return nil, pkgerrors.NewOsError("ioctl TUNSETIFF "+name, err)
	}
	return newDevice(fd, ifr.Name(), opts), nil
}

// CreateMultiqueue opens count queues of interface name. If any queue fails
// the queues opened so far are closed before the error is returned.
func CreateMultiqueue(name string, count int, flags Flags, opts ...Option) ([]*Device, error) {
	if count < 1 {
		return nil, pkgerrors.NewOsError("create multiqueue", unix.EINVAL)
	}
	queues := make([]*Device, 0, count)
	for i := 0; i < count; i++ {
		dev, err := Create(name, flags|FlagMultiQueue, opts...)
		if err != nil {
			CloseAll(queues)
			return nil, fmt.Errorf("queue %d of %d: %w", i+1, count, err)
		}
		queues = append(queues, dev)
	}
	return queues, nil
}

// FromFD wraps an already configured descriptor, for example one inherited
// from a parent process. The Device takes ownership of fd.
func FromFD(fd int, name string, opts ...Option) *Device {
	return newDevice(fd, name, opts)
}

func newDevice(fd int, name string, opts []Option) *Device {
	d := &Device{fd: fd, name: name}
	for _, opt := range opts {
		opt(d)
	}
	if d.buffer == nil {
		d.buffer = make([]byte, DefaultBufferSize)
	}
	return d
}

// Read returns one packet. The slice aliases the device buffer and is valid
// until the next Read.
func (d *Device) Read() ([]byte, error) {
	if d.closed {
		return nil, pkgerrors.ErrClosed
	}
	for {
		n, err := unix.Read(d.fd, d.buffer)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, pkgerrors.NewOsError("read "+d.name, err)
		}
		return d.buffer[:n], nil
	}
}

// Write injects one packet. A TUN write is packet atomic, so a short count is
// not treated as an error.
func (d *Device) Write(packet []byte) error {
	if d.closed {
		return pkgerrors.ErrClosed
	}
	for {
		_, err := unix.Write(d.fd, packet)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return pkgerrors.NewOsError("write "+d.name, err)
	}
}

// Fd returns the queue descriptor.
func (d *Device) Fd() int { return d.fd }

// Name returns the interface name the kernel assigned.
func (d *Device) Name() string { return d.name }

// Close releases the queue. Subsequent calls return nil.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return pkgerrors.NewOsError("close "+d.name, unix.Close(d.fd))
}

// CloseAll closes every queue and returns the first error.
func CloseAll(queues []*Device) error {
	var first error
	for _, q := range queues {
		if err := q.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
