// Package store defines the host-side persistence contract for a
// replica's document and vector clock, per section 6's "Persisted
// state": the core has no on-disk format of its own, so a host that
// wants restart durability persists the full Document (including
// tombstones) and the VectorClock, then installs them verbatim on
// reload via replica.Replica.Restore.
package store

import (
	"context"
	"errors"

	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/vclock"
)

// ErrNotFound is returned by Load when no snapshot exists for a document
// id.
var ErrNotFound = errors.New("store: document not found")

// Snapshot is the persisted shape of one replica's document: every
// CharRecord (visible and tombstoned) in total order, plus the vector
// clock at the time of the snapshot.
type Snapshot struct {
	DocID   string
	Records []crdt.CharRecord
	Clock   vclock.Clock
}

// DocumentStore persists and restores Snapshots, keyed by document id.
// Implementations must never be consulted by the core itself (section 5:
// the Document and clock are owned exclusively by the replica's event
// loop); only the host (cmd/server, cmd/client) calls a DocumentStore.
type DocumentStore interface {
	// Save writes snap, replacing any prior snapshot for snap.DocID.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the snapshot for docID, or ErrNotFound if none exists.
	Load(ctx context.Context, docID string) (Snapshot, error)

	// Close releases any resources (connections, file handles) held by
	// the store.
	Close() error
}
