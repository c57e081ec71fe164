package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

// UpsertRelay records a relay URL if it is not known yet.
func (db *DB) UpsertRelay(ctx context.Context, url string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO relays (url, first_seen) VALUES (?, ?)`,
		url, db.now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert relay: %w", err)
	}
	return nil
}

// StoreEvent persists the event and records that relay delivered it.
func (db *DB) StoreEvent(ctx context.Context, relay string, evt *types.Event) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, pubkey, kind, created_at, raw)
		VALUES (?, ?, ?, ?, ?)
	`, evt.ID, evt.PubKey, evt.Kind, evt.CreatedAt, nostr.ToJSON(evt))
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	if err := recordDelivery(ctx, tx, evt.ID, relay); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordDelivery notes that relay delivered eventID. Repeats are ignored.
func (db *DB) RecordDelivery(ctx context.Context, eventID, relay string) error {
	return recordDelivery(ctx, db.conn, eventID, relay)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordDelivery(ctx context.Context, ex execer, eventID, relay string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO textnote_relays (event_id, relay) VALUES (?, ?)`,
		eventID, relay)
	if err != nil {
		return fmt.Errorf("store: record delivery: %w", err)
	}
	return nil
}

// RelaysFor lists every relay known to have delivered eventID, sorted.
func (db *DB) RelaysFor(ctx context.Context, eventID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT relay FROM textnote_relays WHERE event_id = ? ORDER BY relay`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: relays for: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var relay string
		if err := rows.Scan(&relay); err != nil {
			return nil, err
		}
		out = append(out, relay)
	}
	return out, rows.Err()
}

// UpsertMetadata stores the raw metadata event of pubkey, replacing whatever
// was there. The verification timestamp is kept.
func (db *DB) UpsertMetadata(ctx context.Context, pubkey, rawEvent string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO metadata (pubkey, event) VALUES (?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET event = excluded.event
	`, pubkey, rawEvent)
	if err != nil {
		return fmt.Errorf("store: upsert metadata: %w", err)
	}
	return nil
}

// GetPersona returns the stored profile of pubkey, or nil when none is known.
func (db *DB) GetPersona(ctx context.Context, pubkey string) (*types.Persona, error) {
	var raw string
	var verifiedAt sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT event, nip05_verified_at FROM metadata WHERE pubkey = ?`, pubkey,
	).Scan(&raw, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get persona: %w", err)
	}

	var evt types.Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("store: decode metadata event: %w", err)
	}
	persona, err := nostr.PersonaFromMetadata(&evt)
	if err != nil {
		return nil, fmt.Errorf("store: get persona: %w", err)
	}

	if verifiedAt.Valid && persona.Nip05 != "" {
		age := db.now().Sub(time.Unix(verifiedAt.Int64, 0))
		persona.Nip05Verified = age < db.verifiedWindow
	}
	return persona, nil
}

// VerificationAgeHours returns the whole hours since pubkey was last verified.
// ok is false when it never was.
func (db *DB) VerificationAgeHours(ctx context.Context, pubkey string) (hours int, ok bool, err error) {
	var verifiedAt sql.NullInt64
	err = db.conn.QueryRowContext(ctx,
		`SELECT nip05_verified_at FROM metadata WHERE pubkey = ?`, pubkey,
	).Scan(&verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: verification age: %w", err)
	}
	if !verifiedAt.Valid {
		return 0, false, nil
	}

	secs := db.now().Unix() - verifiedAt.Int64
	if secs < 0 {
		secs = 0
	}
	return int(secs / 3600), true, nil
}

// SetVerifiedNow stamps the metadata row of pubkey as verified at the current time.
func (db *DB) SetVerifiedNow(ctx context.Context, pubkey string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE metadata SET nip05_verified_at = ? WHERE pubkey = ?`,
		db.now().Unix(), pubkey)
	if err != nil {
		return fmt.Errorf("store: set verified: %w", err)
	}
	return nil
}

// CountRelays returns the number of known relays.
func (db *DB) CountRelays(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM relays`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count relays: %w", err)
	}
	return n, nil
}
