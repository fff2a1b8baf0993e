package types

import (
	"sync/atomic"
	"time"
)

// Status represents tunnel runtime status
type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
	Interface string
	Queues    int
	Remote    string
	Local     string // empty until the socket is bound
}

// Stats is a point-in-time copy of the traffic counters.
// Tx is TUN to UDP (egress), Rx is UDP to TUN (ingress).
type Stats struct {
	TxPackets uint64
	TxBytes   uint64
	TxDropped uint64
	RxPackets uint64
	RxBytes   uint64
	RxDropped uint64
	RxForeign uint64 // datagrams from a peer other than the remote
	Errors    uint64
}

// Sub returns s minus prev, for per-interval rates.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		TxPackets: s.TxPackets - prev.TxPackets,
		TxBytes:   s.TxBytes - prev.TxBytes,
		TxDropped: s.TxDropped - prev.TxDropped,
		RxPackets: s.RxPackets - prev.RxPackets,
		RxBytes:   s.RxBytes - prev.RxBytes,
		RxDropped: s.RxDropped - prev.RxDropped,
		RxForeign: s.RxForeign - prev.RxForeign,
		Errors:    s.Errors - prev.Errors,
	}
}

// Counters are written by the reactor goroutine and read from anywhere.
type Counters struct {
	TxPackets atomic.Uint64
	TxBytes   atomic.Uint64
	TxDropped atomic.Uint64
	RxPackets atomic.Uint64
	RxBytes   atomic.Uint64
	RxDropped atomic.Uint64
	RxForeign atomic.Uint64
	Errors    atomic.Uint64
}

// Egress records one packet sent to the remote.
func (c *Counters) Egress(n int) {
	c.TxPackets.Add(1)
	c.TxBytes.Add(uint64(n))
}

// Ingress records one packet written to a TUN queue.
func (c *Counters) Ingress(n int) {
	c.RxPackets.Add(1)
	c.RxBytes.Add(uint64(n))
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		TxPackets: c.TxPackets.Load(),
		TxBytes:   c.TxBytes.Load(),
		TxDropped: c.TxDropped.Load(),
		RxPackets: c.RxPackets.Load(),
		RxBytes:   c.RxBytes.Load(),
		RxDropped: c.RxDropped.Load(),
		RxForeign: c.RxForeign.Load(),
		Errors:    c.Errors.Load(),
	}
}
