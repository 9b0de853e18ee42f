package replica

import (
	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/vclock"
)

// OpKind tags an Operation as an Insert or a Delete, section 3's
// "tagged union".
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

// Operation is the result of a local edit or a received remote edit,
// per section 3's Operation entity.
type Operation struct {
	Kind     OpKind
	Position int
	Clock    vclock.Clock
	Record   crdt.CharRecord // populated for OpInsert
	TargetID crdt.CharID     // populated for OpDelete
}

// ApplyResult reports what happened when an inbound envelope was
// processed, for host-side observability; it is never an error the host
// must handle (section 7: no error condition leaves the document
// partially mutated).
type ApplyResult struct {
	Applied bool   // an Operation/Ack/Cursor/Presence was processed
	Dropped bool   // dropped as loopback, duplicate, or malformed
	Reason  string // human-readable reason when Dropped
}
