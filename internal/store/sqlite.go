package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/spikebot/internal/domain"
)

const sqliteTimeout = 5 * time.Second

// SQLiteStore keeps history as JSON payloads keyed by (day, id).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path; ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "data/spikebot.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, wrapErr("open", fmt.Errorf("mkdir db dir: %w", err))
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("open", fmt.Errorf("open sqlite: %w", err))
	}
	// SQLite is happiest with a single connection; it also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, wrapErr("migrate", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS daily_counters (
  day TEXT PRIMARY KEY,
  n INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS signal_history (
  day TEXT NOT NULL,
  id INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  status TEXT NOT NULL,
  payload TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (day, id)
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func ctxTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sqliteTimeout)
}

func (s *SQLiteStore) LoadCounter(day string) (int, error) {
	ctx, cancel := ctxTimeout()
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT n FROM daily_counters WHERE day = ?`, day).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, wrapErr("load counter", err)
}

func (s *SQLiteStore) SaveCounter(day string, n int) error {
	ctx, cancel := ctxTimeout()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_counters(day, n) VALUES(?, ?) ON CONFLICT(day) DO UPDATE SET n = excluded.n`, day, n)
	return wrapErr("save counter", err)
}

func (s *SQLiteStore) LoadSequence() (int64, error) {
	ctx, cancel := ctxTimeout()
	defer cancel()
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'sequence'`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, wrapErr("load sequence", err)
}

func (s *SQLiteStore) SaveSequence(n int64) error {
	ctx, cancel := ctxTimeout()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('sequence', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, n)
	return wrapErr("save sequence", err)
}

func (s *SQLiteStore) LoadHistory(day string) ([]domain.SignalRecord, error) {
	ctx, cancel := ctxTimeout()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM signal_history WHERE day = ? ORDER BY id`, day)
	if err != nil {
		return nil, wrapErr("load history", err)
	}
	defer rows.Close()

	var out []domain.SignalRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapErr("load history", err)
		}
		var rec domain.SignalRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, wrapErr("decode record", err)
		}
		out = append(out, rec)
	}
	return out, wrapErr("load history", rows.Err())
}

func (s *SQLiteStore) AppendOrUpdate(day string, rec domain.SignalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return wrapErr("encode record", err)
	}
	ctx, cancel := ctxTimeout()
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO signal_history(day, id, symbol, status, payload, updated_at) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(day, id) DO UPDATE SET status = excluded.status, payload = excluded.payload, updated_at = excluded.updated_at`,
		day, rec.ID, rec.Symbol, string(rec.Status), string(b), time.Now().UTC().Format(time.RFC3339))
	return wrapErr("save record", err)
}

func (s *SQLiteStore) Close() error {
	return wrapErr("close", s.db.Close())
}
