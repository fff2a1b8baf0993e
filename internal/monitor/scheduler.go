// Package monitor periodically samples a running tunnel's counters into
// storage and the log.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"mouse/internal/core/types"
	"mouse/internal/storage"
	"mouse/internal/storage/models"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 30 * time.Second

const (
	pruneInterval    = time.Hour
	defaultRetention = 20
)

// Source is what the monitor samples. *client.Client satisfies it.
type Source interface {
	Stats() types.Stats
	Status() types.Status
}

// Monitor handles periodic stats collection for one session
type Monitor struct {
	scheduler gocron.Scheduler
	source    Source
	store     storage.Storage
	sessionID int64
	interval  time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	running    bool
	last       types.Stats
	lastAt     time.Time
	localSaved bool
}

// New creates a monitor for sessionID
func New(source Source, store storage.Storage, sessionID int64, interval time.Duration, logger *slog.Logger) (*Monitor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		scheduler: scheduler,
		source:    source,
		store:     store,
		sessionID: sessionID,
		interval:  interval,
		logger:    logger,
		lastAt:    time.Now(),
	}, nil
}

// Start starts the scheduler
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor is already running")
	}

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			if err := m.Sample(ctx); err != nil {
				m.logger.Warn("failed to record sample", "session", m.sessionID, "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create sample job: %w", err)
	}

	_, err = m.scheduler.NewJob(
		gocron.DurationJob(pruneInterval),
		gocron.NewTask(func() { m.prune(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create prune job: %w", err)
	}

	m.scheduler.Start()
	m.running = true
	return nil
}

// Stop stops the scheduler and records a final sample
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is not running")
	}
	m.running = false
	m.mu.Unlock()

	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return m.Sample(ctx)
}

// IsRunning returns whether the scheduler is running
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Sample stores the current counters and logs the rates since the previous
// sample.
func (m *Monitor) Sample(ctx context.Context) error {
	stats := m.source.Stats()
	now := time.Now()

	m.mu.Lock()
	delta := stats.Sub(m.last)
	elapsed := now.Sub(m.lastAt).Seconds()
	m.last, m.lastAt = stats, now
	saveLocal := !m.localSaved
	m.mu.Unlock()

	if saveLocal {
		if local := m.source.Status().Local; local != "" {
			if err := m.store.UpdateSessionLocal(ctx, m.sessionID, local); err != nil {
				return err
			}
			m.mu.Lock()
			m.localSaved = true
			m.mu.Unlock()
		}
	}

	sample := &models.Sample{
		SessionID: m.sessionID,
		TxPackets: stats.TxPackets,
		TxBytes:   stats.TxBytes,
		RxPackets: stats.RxPackets,
		RxBytes:   stats.RxBytes,
		Dropped:   stats.TxDropped + stats.RxDropped + stats.RxForeign,
		Errors:    stats.Errors,
		TakenAt:   now.UTC(),
	}
	if err := m.store.RecordSample(ctx, sample); err != nil {
		return err
	}

	if elapsed > 0 {
		m.logger.Info("traffic",
			"session", m.sessionID,
			"tx_pps", int(float64(delta.TxPackets)/elapsed),
			"rx_pps", int(float64(delta.RxPackets)/elapsed),
			"tx_bps", int(float64(delta.TxBytes)/elapsed),
			"rx_bps", int(float64(delta.RxBytes)/elapsed),
			"dropped", sample.Dropped,
			"errors", stats.Errors,
		)
	}
	return nil
}

// prune drops samples of old sessions according to the retention setting.
func (m *Monitor) prune(ctx context.Context) {
	keep := defaultRetention
	if value, err := m.store.GetSetting(ctx, storage.SettingSampleRetention); err == nil {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			keep = n
		}
	}
	n, err := m.store.PruneSamples(ctx, keep)
	if err != nil {
		m.logger.Warn("failed to prune samples", "error", err)
		return
	}
	if n > 0 {
		m.logger.Debug("pruned samples", "rows", n, "kept_sessions", keep)
	}
}
