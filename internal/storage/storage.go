package storage

import (
	"context"

	"mouse/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Session operations
	CreateSession(ctx context.Context, session *models.Session) error
	UpdateSessionLocal(ctx context.Context, id int64, local string) error
	FinishSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	GetActiveSession(ctx context.Context) (*models.Session, error) // nil if none
	GetActiveSessions(ctx context.Context) ([]*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// Sample operations
	RecordSample(ctx context.Context, sample *models.Sample) error
	GetLatestSample(ctx context.Context, sessionID int64) (*models.Sample, error) // nil if none
	GetSamples(ctx context.Context, sessionID int64, limit int) ([]*models.Sample, error)
	PruneSamples(ctx context.Context, keepSessions int) (int64, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// Setting keys
const (
	SettingLastRemoteHost    = "last_remote_host"
	SettingLastRemoteService = "last_remote_service"
	SettingSampleRetention   = "sample_retention_sessions"
)

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
