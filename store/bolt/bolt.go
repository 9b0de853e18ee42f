// Package bolt implements store.DocumentStore on an embedded bbolt
// database: a small KV store keyed by document id, suitable for a
// single-process cmd/client that wants restart durability without a
// Postgres server.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/inkline-collab/inkline/envelope"
	"github.com/inkline-collab/inkline/store"
	"github.com/inkline-collab/inkline/vclock"
)

var bucketName = []byte("documents")

// Store persists one store.Snapshot per document id in a single bbolt
// bucket, keyed by doc id and holding a JSON-encoded snapshot.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// documents bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: opening %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

type wireSnapshot struct {
	Records []envelope.RecordWire `json:"records"`
	Clock   vclock.Clock          `json:"clock"`
}

// Save implements store.DocumentStore. ctx is accepted for interface
// symmetry with the postgres implementation; bbolt's transactions are
// synchronous and do not accept a context.
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	wire := wireSnapshot{Clock: snap.Clock}
	for _, rec := range snap.Records {
		wire.Records = append(wire.Records, envelope.RecordToWire(rec))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("bolt: marshaling snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(snap.DocID), data)
	})
}

// Load implements store.DocumentStore.
func (s *Store) Load(ctx context.Context, docID string) (store.Snapshot, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(docID))
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("bolt: reading %q: %w", docID, err)
	}
	if data == nil {
		return store.Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, docID)
	}

	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return store.Snapshot{}, fmt.Errorf("bolt: unmarshaling snapshot: %w", err)
	}

	snap := store.Snapshot{DocID: docID, Clock: wire.Clock}
	if snap.Clock == nil {
		snap.Clock = vclock.New()
	}
	for _, w := range wire.Records {
		rec, err := envelope.RecordFromWire(w)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("bolt: decoding record: %w", err)
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// Close implements store.DocumentStore.
func (s *Store) Close() error {
	return s.db.Close()
}
