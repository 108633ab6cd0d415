// Package store provides the embedded local store that is the single
// source of truth for everything the UI renders.
//
// The store is SQLite (ncruces/go-sqlite3) opened in WAL mode so reads
// stay concurrent with the sync engine's writes. Two tables, notes and
// folders, carry the entity schema plus a local-only lifecycle state
// column (clean/dirty/tombstone); a purged row is simply deleted.
//
// Every multi-row operation used by the sync engine runs in a single
// transaction: a partial push confirmation can never leave some rows
// cleared and others not. Committed writes are immediately visible to
// subsequent reads, and subscribers are notified after each commit so
// reactive readers can re-run their queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Kind names an entity table. Subscribers receive the kind whose table
// changed.
type Kind string

const (
	// KindNotes is the notes table.
	KindNotes Kind = "notes"
	// KindFolders is the folders table.
	KindFolders Kind = "folders"
)

// ErrNotFound is returned by point lookups when no live row exists.
var ErrNotFound = errors.New("not found")

// timeFormat is the fixed-width UTC timestamp layout used in columns.
// Fixed width keeps ORDER BY on timestamp columns correct.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite connection with the journal schema.
type Store struct {
	conn *sql.DB
	path string

	subMu   sync.Mutex
	subs    map[int]func(Kind)
	nextSub int
}

// Open creates or opens the database at path and applies the pragmas
// the engine relies on (WAL, busy timeout, foreign keys).
//
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		subs: make(map[int]func(Kind)),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection for integration with
// other libraries.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Init creates the schema if it doesn't exist. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		folder_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		images TEXT NOT NULL DEFAULT '[]',  -- JSON array of variant triples
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'dirty'
			CHECK (state IN ('clean', 'dirty', 'tombstone'))
	);

	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'dirty'
			CHECK (state IN ('clean', 'dirty', 'tombstone'))
	);

	-- Dirty/tombstone scans and owner-filtered reads
	CREATE INDEX IF NOT EXISTS idx_notes_owner_state ON notes(owner_id, state);
	CREATE INDEX IF NOT EXISTS idx_notes_state ON notes(state);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	CREATE INDEX IF NOT EXISTS idx_folders_owner_state ON folders(owner_id, state);
	CREATE INDEX IF NOT EXISTS idx_folders_state ON folders(state);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Subscribe registers fn to be called after every committed write, with
// the kind whose table changed. The returned func unsubscribes.
//
// Callbacks run synchronously on the writer's goroutine; keep them
// short (typically: signal a channel, re-run a query elsewhere).
func (s *Store) Subscribe(fn func(Kind)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// notify fires subscriber callbacks after a committed write.
func (s *Store) notify(kind Kind) {
	s.subMu.Lock()
	fns := make([]func(Kind), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
}

// formatTime renders t in the store's column layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime parses a column value written by formatTime.
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		// Rows imported from other tooling may carry plain RFC3339.
		t, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
	}
	return t, nil
}
