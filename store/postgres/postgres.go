// Package postgres implements store.DocumentStore on top of pgx's
// connection pool: a long-lived pgxpool.Pool passed around by the host.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkline-collab/inkline/envelope"
	"github.com/inkline-collab/inkline/store"
	"github.com/inkline-collab/inkline/vclock"
)

// Store persists store.Snapshot rows in a single "documents" table. The
// schema is intentionally minimal:
//
//	CREATE TABLE IF NOT EXISTS documents (
//	    doc_id  TEXT PRIMARY KEY,
//	    records JSONB NOT NULL,
//	    clock   JSONB NOT NULL
//	);
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the documents table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			doc_id  TEXT PRIMARY KEY,
			records JSONB NOT NULL,
			clock   JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Save implements store.DocumentStore.
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	wire := make([]envelope.RecordWire, len(snap.Records))
	for i, rec := range snap.Records {
		wire[i] = envelope.RecordToWire(rec)
	}
	recordsJSON, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("postgres: marshaling records: %w", err)
	}
	clockJSON, err := json.Marshal(snap.Clock)
	if err != nil {
		return fmt.Errorf("postgres: marshaling clock: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (doc_id, records, clock)
		VALUES ($1, $2, $3)
		ON CONFLICT (doc_id) DO UPDATE SET records = $2, clock = $3
	`, snap.DocID, recordsJSON, clockJSON)
	if err != nil {
		return fmt.Errorf("postgres: saving %q: %w", snap.DocID, err)
	}
	return nil
}

// Load implements store.DocumentStore.
func (s *Store) Load(ctx context.Context, docID string) (store.Snapshot, error) {
	var recordsJSON, clockJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT records, clock FROM documents WHERE doc_id = $1
	`, docID).Scan(&recordsJSON, &clockJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, docID)
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("postgres: loading %q: %w", docID, err)
	}

	var wire []envelope.RecordWire
	if err := json.Unmarshal(recordsJSON, &wire); err != nil {
		return store.Snapshot{}, fmt.Errorf("postgres: unmarshaling records: %w", err)
	}

	snap := store.Snapshot{DocID: docID, Clock: vclock.New()}
	if err := json.Unmarshal(clockJSON, &snap.Clock); err != nil {
		return store.Snapshot{}, fmt.Errorf("postgres: unmarshaling clock: %w", err)
	}
	for _, w := range wire {
		rec, err := envelope.RecordFromWire(w)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("postgres: decoding record: %w", err)
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// Close implements store.DocumentStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
