// Package storage provides a SQLite-backed journal of sent alerts and scan cycles.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AlertRecord is one alert that was delivered to the notification channel.
type AlertRecord struct {
	ID       string
	MarketID string
	Kind     string
	AlertKey string
	Title    string
	URL      string
	Score    float64
	SentAt   time.Time
}

// CycleRecord summarizes one scan cycle.
type CycleRecord struct {
	ID             string
	StartedAt      time.Time
	Duration       time.Duration
	Markets        int
	NewMarkets     int
	Signals        int
	AlertsSent     int
	RemovedMarkets int
	Error          string
}

// Storage wraps a SQLite database for the journal.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polysignal/journal.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polysignal", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			market_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			alert_key   TEXT NOT NULL,
			title       TEXT NOT NULL,
			url         TEXT,
			score       REAL NOT NULL,
			sent_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id              TEXT PRIMARY KEY,
			started_at      INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			markets         INTEGER NOT NULL,
			new_markets     INTEGER NOT NULL,
			signals         INTEGER NOT NULL,
			alerts_sent     INTEGER NOT NULL,
			removed_markets INTEGER NOT NULL,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alerts(sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordAlert appends an alert. An empty ID is filled with a new UUID.
func (s *Storage) RecordAlert(ctx context.Context, a AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, market_id, kind, alert_key, title, url, score, sent_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.MarketID, a.Kind, a.AlertKey, a.Title, a.URL, a.Score, a.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecordCycle appends a cycle summary. An empty ID is filled with a new UUID.
func (s *Storage) RecordCycle(ctx context.Context, c CycleRecord) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles
			(id, started_at, duration_ms, markets, new_markets, signals,
			 alerts_sent, removed_markets, error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.StartedAt.UnixNano(), c.Duration.Milliseconds(), c.Markets, c.NewMarkets,
		c.Signals, c.AlertsSent, c.RemovedMarkets, c.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// RecentAlerts returns up to k alerts, newest first.
func (s *Storage) RecentAlerts(ctx context.Context, k int) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, kind, alert_key, title, url, score, sent_at
		FROM alerts ORDER BY sent_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRecord
	for rows.Next() {
		var a AlertRecord
		var url sql.NullString
		var sentAtNano int64
		if err := rows.Scan(&a.ID, &a.MarketID, &a.Kind, &a.AlertKey, &a.Title, &url, &a.Score, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.URL = url.String
		a.SentAt = time.Unix(0, sentAtNano)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// LastCycle returns the most recent cycle, or nil when none was recorded.
func (s *Storage) LastCycle(ctx context.Context) (*CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, duration_ms, markets, new_markets, signals,
		       alerts_sent, removed_markets, error
		FROM cycles ORDER BY started_at DESC LIMIT 1`)

	var c CycleRecord
	var startedAtNano, durationMs int64
	var errText sql.NullString
	err := row.Scan(&c.ID, &startedAtNano, &durationMs, &c.Markets, &c.NewMarkets,
		&c.Signals, &c.AlertsSent, &c.RemovedMarkets, &errText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle: %w", err)
	}
	c.StartedAt = time.Unix(0, startedAtNano)
	c.Duration = time.Duration(durationMs) * time.Millisecond
	c.Error = errText.String
	return &c, nil
}

// PruneBefore deletes journal rows older than cutoff and returns how many
// were removed.
func (s *Storage) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, stmt := range []string{
		`DELETE FROM alerts WHERE sent_at < ?`,
		`DELETE FROM cycles WHERE started_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}
