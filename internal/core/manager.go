package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"mouse/internal/core/types"
	"mouse/internal/monitor"
	"mouse/internal/resolver"
	"mouse/internal/storage"
	"mouse/internal/storage/models"
	pkgerrors "mouse/pkg/errors"
)

// StaleExitError marks sessions whose process died without finishing them.
const StaleExitError = "stale: process exited without closing the session"

// startMonitor is swapped in tests to fail the monitor after the session
// row exists.
var startMonitor = func(ctx context.Context, t Tunnel, store storage.Storage, sessionID int64, interval time.Duration, logger *slog.Logger) (*monitor.Monitor, error) {
	mon, err := monitor.New(t, store, sessionID, interval, logger)
	if err != nil {
		return nil, err
	}
	if err := mon.Start(ctx); err != nil {
		return nil, err
	}
	return mon, nil
}

// Manager runs tunnel sessions and records them in storage
type Manager struct {
	store    storage.Storage
	logger   *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	tunnel  Tunnel
	session *models.Session
}

// NewManager creates a new session manager. interval is the stats sampling
// period.
func NewManager(store storage.Storage, interval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Run sets the tunnel up, records a session for it and blocks until the
// tunnel stops. The tunnel is closed before Run returns.
func (m *Manager) Run(ctx context.Context, t Tunnel, remote resolver.Query) error {
	m.mu.Lock()
	if m.tunnel != nil {
		m.mu.Unlock()
		return fmt.Errorf("tunnel is already running")
	}
	m.tunnel = t
	m.mu.Unlock()

	defer func() {
		if err := t.Close(); err != nil {
			m.logger.Warn("failed to close tunnel", "error", err)
		}
		m.mu.Lock()
		m.tunnel, m.session = nil, nil
		m.mu.Unlock()
	}()

	if err := t.Setup(ctx); err != nil {
		return err
	}

	session, err := m.begin(ctx, t.Status(), remote)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	log := m.logger.With("session", session.ID)

	mon, err := startMonitor(ctx, t, m.store, session.ID, m.interval, log)
	if err != nil {
		err = fmt.Errorf("failed to start monitor: %w", err)
		if ferr := m.finish(context.Background(), session, t, err); ferr != nil {
			log.Error("failed to record session end", "error", ferr)
		}
		return err
	}

	runErr := t.Run(ctx)

	// ctx is usually cancelled by now; the bookkeeping below must still land.
	final := context.Background()
	if err := mon.Stop(final); err != nil {
		log.Warn("failed to stop monitor", "error", err)
	}
	if err := m.finish(final, session, t, runErr); err != nil {
		log.Error("failed to record session end", "error", err)
	}
	return runErr
}

// begin creates the session row and remembers the remote for the next
// connect, in one transaction.
func (m *Manager) begin(ctx context.Context, status types.Status, remote resolver.Query) (*models.Session, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session := &models.Session{
		Interface: status.Interface,
		Queues:    status.Queues,
		Remote:    status.Remote,
		Local:     status.Local,
		PID:       status.PID,
	}
	if err := tx.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if err := tx.SetSetting(ctx, storage.SettingLastRemoteHost, remote.Host); err != nil {
		return nil, err
	}
	if err := tx.SetSetting(ctx, storage.SettingLastRemoteService, remote.Service); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return session, nil
}

func (m *Manager) finish(ctx context.Context, session *models.Session, t Tunnel, runErr error) error {
	stats := t.Stats()
	session.TxPackets = stats.TxPackets
	session.TxBytes = stats.TxBytes
	session.RxPackets = stats.RxPackets
	session.RxBytes = stats.RxBytes
	session.Dropped = stats.TxDropped + stats.RxDropped + stats.RxForeign
	session.Errors = stats.Errors
	if local := t.Status().Local; local != "" {
		session.Local = local
	}
	if runErr != nil {
		session.ExitError = runErr.Error()
	}
	return m.store.FinishSession(ctx, session)
}

// Stop asks the running tunnel to return from Run
func (m *Manager) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tunnel == nil {
		return pkgerrors.ErrNoActiveSession
	}
	return m.tunnel.Stop()
}

// IsRunning returns whether a tunnel is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tunnel != nil
}

// GetStatus returns the current status of the tunnel
func (m *Manager) GetStatus() (*types.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tunnel == nil {
		return nil, pkgerrors.ErrNoActiveSession
	}
	status := m.tunnel.Status()
	return &status, nil
}

// GetStats returns real-time statistics
func (m *Manager) GetStats() (*types.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tunnel == nil {
		return nil, pkgerrors.ErrNoActiveSession
	}
	stats := m.tunnel.Stats()
	return &stats, nil
}

// SessionID returns the id of the running session, or 0.
func (m *Manager) SessionID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return 0
	}
	return m.session.ID
}

// processAlive reports whether pid names a live process.
var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// RecoverStale finishes sessions left open by a process that no longer
// exists, and returns how many it closed.
func RecoverStale(ctx context.Context, store storage.Storage) (int, error) {
	sessions, err := store.GetActiveSessions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if processAlive(s.PID) {
			continue
		}
		s.ExitError = StaleExitError
		if err := store.FinishSession(ctx, s); err != nil {
			return n, fmt.Errorf("failed to close stale session %d: %w", s.ID, err)
		}
		n++
	}
	return n, nil
}
