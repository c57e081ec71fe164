// Package store is the persistence gateway: relays, events, relay provenance
// and author metadata in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS relays (
	url        TEXT PRIMARY KEY,
	first_seen INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	pubkey     TEXT NOT NULL,
	kind       INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	raw        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS textnote_relays (
	event_id TEXT NOT NULL,
	relay    TEXT NOT NULL,
	UNIQUE(event_id, relay)
);

CREATE TABLE IF NOT EXISTS metadata (
	pubkey            TEXT PRIMARY KEY,
	event             TEXT NOT NULL,
	nip05_verified_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_textnote_relays_event ON textnote_relays(event_id);
CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
`

// DefaultVerifiedWindow is how long a NIP-05 verification counts as current.
const DefaultVerifiedWindow = 12 * time.Hour

// DB wraps a sql.DB with gateway operations.
type DB struct {
	conn           *sql.DB
	now            func() time.Time
	verifiedWindow time.Duration
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithVerifiedWindow sets how long a stored verification marks a persona as verified.
func WithVerifiedWindow(d time.Duration) Option {
	return func(db *DB) { db.verifiedWindow = d }
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// single connection, so writers never race for the database lock
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	db := &DB{
		conn:           conn,
		now:            time.Now,
		verifiedWindow: DefaultVerifiedWindow,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
