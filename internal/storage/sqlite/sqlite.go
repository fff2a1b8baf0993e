package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mouse/internal/storage"
	"mouse/internal/storage/models"
	pkgerrors "mouse/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The daemon writes while status and tui read from other processes;
	// one connection per process keeps sqlite locking simple.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	// Run migrations
	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Session operations ─────────────────────────────────────────────────────

const sessionColumns = `id, interface, queues, remote, local, pid, started_at, ended_at, exit_error,
		       tx_packets, tx_bytes, rx_packets, rx_bytes, dropped, errors`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(
		&s.ID, &s.Interface, &s.Queues, &s.Remote, &s.Local, &s.PID, &s.StartedAt, &s.EndedAt, &s.ExitError,
		&s.TxPackets, &s.TxBytes, &s.RxPackets, &s.RxBytes, &s.Dropped, &s.Errors,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *DB) CreateSession(ctx context.Context, session *models.Session) error {
	return createSession(ctx, d.handle(), session)
}
func (t *Tx) CreateSession(ctx context.Context, session *models.Session) error {
	return createSession(ctx, t.handle(), session)
}

func createSession(ctx context.Context, h dbHandle, session *models.Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO sessions (interface, queues, remote, local, pid, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		session.Interface, session.Queues, session.Remote, session.Local, session.PID, session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = id
	return nil
}

func (d *DB) UpdateSessionLocal(ctx context.Context, id int64, local string) error {
	return updateSessionLocal(ctx, d.handle(), id, local)
}
func (t *Tx) UpdateSessionLocal(ctx context.Context, id int64, local string) error {
	return updateSessionLocal(ctx, t.handle(), id, local)
}

func updateSessionLocal(ctx context.Context, h dbHandle, id int64, local string) error {
	result, err := h.ExecContext(ctx, "UPDATE sessions SET local = ? WHERE id = ?", local, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(result)
}

func (d *DB) FinishSession(ctx context.Context, session *models.Session) error {
	return finishSession(ctx, d.handle(), session)
}
func (t *Tx) FinishSession(ctx context.Context, session *models.Session) error {
	return finishSession(ctx, t.handle(), session)
}

func finishSession(ctx context.Context, h dbHandle, session *models.Session) error {
	if session.EndedAt == nil {
		now := time.Now().UTC()
		session.EndedAt = &now
	}
	query := `
		UPDATE sessions SET
			local = ?, ended_at = ?, exit_error = ?,
			tx_packets = ?, tx_bytes = ?, rx_packets = ?, rx_bytes = ?, dropped = ?, errors = ?
		WHERE id = ?
	`
	result, err := h.ExecContext(ctx, query,
		session.Local, session.EndedAt, session.ExitError,
		session.TxPackets, session.TxBytes, session.RxPackets, session.RxBytes, session.Dropped, session.Errors,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.ErrSessionNotFound
	}
	return nil
}

func (d *DB) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	return getSession(ctx, d.handle(), id)
}
func (t *Tx) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	return getSession(ctx, t.handle(), id)
}

func getSession(ctx context.Context, h dbHandle, id int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	session, err := scanSession(h.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (d *DB) GetActiveSession(ctx context.Context) (*models.Session, error) {
	return getActiveSession(ctx, d.handle())
}
func (t *Tx) GetActiveSession(ctx context.Context) (*models.Session, error) {
	return getActiveSession(ctx, t.handle())
}

func getActiveSession(ctx context.Context, h dbHandle) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ended_at IS NULL ORDER BY id DESC LIMIT 1`
	session, err := scanSession(h.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (d *DB) GetActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return querySessions(ctx, d.handle(), `SELECT `+sessionColumns+` FROM sessions WHERE ended_at IS NULL ORDER BY id DESC`)
}
func (t *Tx) GetActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return querySessions(ctx, t.handle(), `SELECT `+sessionColumns+` FROM sessions WHERE ended_at IS NULL ORDER BY id DESC`)
}

func (d *DB) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return querySessions(ctx, d.handle(), `SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC LIMIT ?`, limit)
}
func (t *Tx) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return querySessions(ctx, t.handle(), `SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC LIMIT ?`, limit)
}

func querySessions(ctx context.Context, h dbHandle, query string, args ...interface{}) ([]*models.Session, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ─── Sample operations ──────────────────────────────────────────────────────

func (d *DB) RecordSample(ctx context.Context, sample *models.Sample) error {
	return recordSample(ctx, d.handle(), sample)
}
func (t *Tx) RecordSample(ctx context.Context, sample *models.Sample) error {
	return recordSample(ctx, t.handle(), sample)
}

func recordSample(ctx context.Context, h dbHandle, sample *models.Sample) error {
	if sample.TakenAt.IsZero() {
		sample.TakenAt = time.Now().UTC()
	}
	query := `
		INSERT INTO samples (session_id, tx_packets, tx_bytes, rx_packets, rx_bytes, dropped, errors, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		sample.SessionID, sample.TxPackets, sample.TxBytes, sample.RxPackets, sample.RxBytes,
		sample.Dropped, sample.Errors, sample.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	sample.ID = id
	return nil
}

const sampleColumns = `id, session_id, tx_packets, tx_bytes, rx_packets, rx_bytes, dropped, errors, taken_at`

func scanSample(row scanner) (*models.Sample, error) {
	s := &models.Sample{}
	err := row.Scan(&s.ID, &s.SessionID, &s.TxPackets, &s.TxBytes, &s.RxPackets, &s.RxBytes, &s.Dropped, &s.Errors, &s.TakenAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *DB) GetLatestSample(ctx context.Context, sessionID int64) (*models.Sample, error) {
	return getLatestSample(ctx, d.handle(), sessionID)
}
func (t *Tx) GetLatestSample(ctx context.Context, sessionID int64) (*models.Sample, error) {
	return getLatestSample(ctx, t.handle(), sessionID)
}

func getLatestSample(ctx context.Context, h dbHandle, sessionID int64) (*models.Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE session_id = ? ORDER BY id DESC LIMIT 1`
	sample, err := scanSample(h.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sample, nil
}

func (d *DB) GetSamples(ctx context.Context, sessionID int64, limit int) ([]*models.Sample, error) {
	return getSamples(ctx, d.handle(), sessionID, limit)
}
func (t *Tx) GetSamples(ctx context.Context, sessionID int64, limit int) ([]*models.Sample, error) {
	return getSamples(ctx, t.handle(), sessionID, limit)
}

// getSamples returns the newest limit samples, oldest first.
func getSamples(ctx context.Context, h dbHandle, sessionID int64, limit int) ([]*models.Sample, error) {
	query := `
		SELECT ` + sampleColumns + ` FROM (
			SELECT * FROM samples WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := h.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (d *DB) PruneSamples(ctx context.Context, keepSessions int) (int64, error) {
	return pruneSamples(ctx, d.handle(), keepSessions)
}
func (t *Tx) PruneSamples(ctx context.Context, keepSessions int) (int64, error) {
	return pruneSamples(ctx, t.handle(), keepSessions)
}

// pruneSamples deletes samples of all but the newest keepSessions sessions.
func pruneSamples(ctx context.Context, h dbHandle, keepSessions int) (int64, error) {
	query := `
		DELETE FROM samples WHERE session_id NOT IN (
			SELECT id FROM sessions ORDER BY id DESC LIMIT ?
		)
	`
	result, err := h.ExecContext(ctx, query, keepSessions)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return result.RowsAffected()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting not found: %s", key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
