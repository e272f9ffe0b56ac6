// Package sqlite provides a single-file session.Store on SQLite. It suits
// local CLI use where no Redis or Mongo deployment is available.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tripgraph/tripgraph/runtime/session"
)

const clientName = "session-sqlite"

// Store implements session.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps writers from racing into SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		next_node TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, threadID string) (session.State, error) {
	if threadID == "" {
		return session.State{}, session.ErrThreadIDRequired
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("load checkpoint %q: %w", threadID, err)
	}
	var st session.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return session.State{}, fmt.Errorf("decode checkpoint %q: %w", threadID, err)
	}
	return st, nil
}

// Save implements session.Store. The version check and the write happen in
// one statement.
func (s *Store) Save(ctx context.Context, st session.State) error {
	if st.ThreadID == "" {
		return session.ErrThreadIDRequired
	}
	expected := st.Version
	st.Version++
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %q: %w", st.ThreadID, err)
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (thread_id, turn_id, next_node, done, state_json, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id) DO NOTHING`,
			st.ThreadID, st.TurnID, st.Next, st.Done, string(raw), st.Version, updated.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE checkpoints SET
				turn_id = ?, next_node = ?, done = ?, state_json = ?, version = ?, updated_at = ?
			WHERE thread_id = ? AND version = ?`,
			st.TurnID, st.Next, st.Done, string(raw), st.Version, updated.UnixMilli(), st.ThreadID, expected)
	}
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", st.ThreadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", st.ThreadID, err)
	}
	if n == 0 {
		return fmt.Errorf("save checkpoint %q: %w", st.ThreadID, session.ErrConflict)
	}
	return nil
}

// Thread summarizes a stored checkpoint.
type Thread struct {
	ThreadID  string
	TurnID    string
	Next      string
	Done      bool
	UpdatedAt time.Time
}

// Threads lists stored threads, most recently updated first.
func (s *Store) Threads(ctx context.Context, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, turn_id, next_node, done, updated_at
		FROM checkpoints ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Thread
	for rows.Next() {
		var (
			t       Thread
			updated int64
		)
		if err := rows.Scan(&t.ThreadID, &t.TurnID, &t.Next, &t.Done, &updated); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		t.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }
