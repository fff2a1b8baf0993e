package models

import "time"

// Sample is a periodic snapshot of a session's cumulative counters
type Sample struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	TxPackets uint64    `json:"tx_packets"`
	TxBytes   uint64    `json:"tx_bytes"`
	RxPackets uint64    `json:"rx_packets"`
	RxBytes   uint64    `json:"rx_bytes"`
	Dropped   uint64    `json:"dropped"`
	Errors    uint64    `json:"errors"`
	TakenAt   time.Time `json:"taken_at"`
}
