// Package store persists the coordinator reader's replayed key/value
// snapshot to a local sqlite database, so a restarted node can resume
// from durable state instead of replaying the whole log from the
// oldest offset every time. Adapted from the teacher's
// internal/storage/sqlite.Store: same pragma set, same append-only
// guard-trigger idiom, collapsed from a per-partition/per-day set of
// databases down to one file since the coordinator log has exactly one
// partition.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS migrations (
	version INTEGER PRIMARY KEY,
	applied_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS coordinator_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS coordinator_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS coordinator_log_entries (
	log_offset INTEGER PRIMARY KEY,
	key BLOB NOT NULL,
	value BLOB,
	appended_at_utc_ns INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_coordinator_log_entries_no_update
BEFORE UPDATE ON coordinator_log_entries
BEGIN
	SELECT RAISE(ABORT, 'coordinator log entries are append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_coordinator_log_entries_no_delete
BEFORE DELETE ON coordinator_log_entries
BEGIN
	SELECT RAISE(ABORT, 'coordinator log entries are append-only: DELETE forbidden');
END;
`

const schemaVersion = 1

// Store is a sqlite-backed durable mirror of the coordinator's
// materialized configuration and a copy of every log entry applied to
// it, keyed by raft log offset.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("coordinator store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("coordinator store: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("coordinator store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coordinator store: create schema: %w", err)
	}
	if err := recordMigration(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func recordMigration(db *sql.DB) error {
	_, err := db.Exec(`INSERT INTO migrations(version, applied_at_utc_ns) VALUES(?, ?)
ON CONFLICT(version) DO NOTHING`, schemaVersion, time.Now().UTC().UnixNano())
	return err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// AppendLogEntry records a raft-committed coordinator log entry at
// offset, alongside the config snapshot mutation it caused. Entries are
// write-once: appending the same offset twice is a no-op, matching the
// append-only log it mirrors.
func (s *Store) AppendLogEntry(ctx context.Context, offset uint64, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO coordinator_log_entries(log_offset, key, value, appended_at_utc_ns)
VALUES (?, ?, ?, ?)
ON CONFLICT(log_offset) DO NOTHING`,
		int64(offset), key, value, time.Now().UTC().UnixNano())
	return err
}

// SaveSnapshot overwrites the durable configuration snapshot and
// records appliedOffset as the last log offset folded into it, in one
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, config map[string]string, appliedOffset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM coordinator_config`); err != nil {
		return err
	}
	now := time.Now().UTC().UnixNano()
	for k, v := range config {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO coordinator_config(key, value, updated_at_utc_ns) VALUES (?, ?, ?)`, k, v, now); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO coordinator_meta(key, value) VALUES('applied_offset', ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, appliedOffset); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadSnapshot returns the durable configuration snapshot and the log
// offset it was last saved at. appliedOffset is empty if no snapshot
// has ever been saved.
func (s *Store) LoadSnapshot(ctx context.Context) (map[string]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM coordinator_config`)
	if err != nil {
		return nil, "", err
	}
	config := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, "", err
		}
		config[k] = v
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, "", err
	}
	rows.Close()

	var appliedOffset string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM coordinator_meta WHERE key='applied_offset'`).Scan(&appliedOffset)
	if err == sql.ErrNoRows {
		return config, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return config, appliedOffset, nil
}
