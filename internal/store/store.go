// Package store persists polls, votes, contracts and audits in SQLite.
//
// It stands in for the ComposeDB indexes the widgets query: every list is
// ordered by createdAt descending and capped at MaxPageSize rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"scanasha/internal/logging"
)

// MaxPageSize caps every list query.
const MaxPageSize = 100

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyVoted is returned for a second vote by the same voter on a poll.
	ErrAlreadyVoted = errors.New("already voted on this poll")
	// ErrUnknownOption is returned for a vote on an option the poll does not have.
	ErrUnknownOption = errors.New("option does not belong to poll")
)

// Store is a SQLite-backed registry.
type Store struct {
	db   *sql.DB
	path string

	now   func() time.Time
	newID func() string
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &Store{
		db:    db,
		path:  path,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Store ready at %s", path)
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS polls (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		author TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_polls_created ON polls(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_polls_author ON polls(author, created_at DESC);

	CREATE TABLE IF NOT EXISTS poll_options (
		id TEXT PRIMARY KEY,
		poll_id TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_poll_options_poll ON poll_options(poll_id, position);

	CREATE TABLE IF NOT EXISTS votes (
		id TEXT PRIMARY KEY,
		poll_id TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
		option_id TEXT NOT NULL,
		is_valid INTEGER NOT NULL DEFAULT 1,
		voter TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(poll_id, voter)
	);
	CREATE INDEX IF NOT EXISTS idx_votes_poll ON votes(poll_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_votes_voter ON votes(voter, created_at DESC);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		contract_name TEXT NOT NULL,
		description TEXT NOT NULL,
		address TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		permission_data TEXT NOT NULL DEFAULT '',
		audit_markdown TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		author TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contracts_created ON contracts(created_at DESC);

	CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		permission_data TEXT NOT NULL DEFAULT '',
		audit_markdown TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		author TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audits_contract ON audits(contract_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audits_author ON audits(author, created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// clampLimit maps non-positive limits to MaxPageSize and caps the rest.
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
