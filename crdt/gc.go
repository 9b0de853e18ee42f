package crdt

import (
	"errors"

	"github.com/inkline-collab/inkline/vclock"
)

// ErrGCUnsafe is returned by GC when a tombstone's origin clock is not
// yet dominated by every known peer's last-observed clock (section 4.6's
// safety condition).
var ErrGCUnsafe = errors.New("crdt: gc refused, tombstone not causally stable")

// GC retains every visible record and the keepRecent most recently
// ordered tombstones, per section 4.6. peerClocks, if non-nil, maps each
// known peer's site id to the last clock observed from it; GC refuses to
// prune a tombstone whose OriginClock is not dominated by every entry in
// peerClocks, reporting ErrGCUnsafe for the first such tombstone found.
// A nil peerClocks defers the safety check entirely to the host, matching
// section 4.6's "implementations may either expose this check or defer
// GC entirely to the host."
func (d *Document) GC(keepRecent int, peerClocks map[string]vclock.Clock) error {
	tombstoneIdx := make([]int, 0, len(d.records))
	for i, r := range d.records {
		if !r.Visible {
			tombstoneIdx = append(tombstoneIdx, i)
		}
	}
	if len(tombstoneIdx) <= keepRecent {
		return nil
	}

	// Tombstones are already in total order because d.records is; the
	// most recent keepRecent are the tail of tombstoneIdx.
	prunable := tombstoneIdx[:len(tombstoneIdx)-keepRecent]

	if peerClocks != nil {
		for _, i := range prunable {
			rec := d.records[i]
			for _, peerClock := range peerClocks {
				if !peerClock.Dominates(rec.OriginClock) {
					return ErrGCUnsafe
				}
			}
		}
	}

	prune := make(map[int]struct{}, len(prunable))
	for _, i := range prunable {
		prune[i] = struct{}{}
	}

	kept := d.records[:0:0]
	for i, r := range d.records {
		if _, drop := prune[i]; drop {
			continue
		}
		kept = append(kept, r)
	}
	d.records = kept
	return nil
}
