package core

import (
	"context"

	"mouse/internal/core/types"
)

// Tunnel defines the interface for the data-plane implementation
type Tunnel interface {
	// Lifecycle
	Setup(ctx context.Context) error
	Run(ctx context.Context) error
	Stop() error
	Close() error

	// Status
	Status() types.Status

	// Stats
	Stats() types.Stats
}
