package models

import "time"

// Session represents one run of the tunnel
type Session struct {
	ID        int64      `json:"id"`
	Interface string     `json:"interface"`
	Queues    int        `json:"queues"`
	Remote    string     `json:"remote"`
	Local     string     `json:"local,omitempty"` // empty until the socket is bound
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"` // NULL while running
	ExitError string     `json:"exit_error,omitempty"`

	// Final counters, written when the session ends
	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns how long the session ran, or has been running.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
