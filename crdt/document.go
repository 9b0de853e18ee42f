// Package crdt implements the replicated character sequence described in
// sections 3 and 4 of the design: a total order over character
// identifiers, tombstone-based deletion, and the local/remote edit
// operations that keep every replica's sequence convergent.
package crdt

import (
	"errors"
	"sort"
	"strings"

	"github.com/inkline-collab/inkline/vclock"
)

var (
	// ErrInvalidPosition is returned when a local edit targets an index
	// outside the document's visible range.
	ErrInvalidPosition = errors.New("crdt: position out of bounds")

	// ErrUnknownCharacter names section 7's UnknownTarget condition. No
	// function in this package returns it: ApplyRemoteDelete buffers a
	// delete whose target cannot be found instead of failing.
	ErrUnknownCharacter = errors.New("crdt: character not found")
)

// CharRecord is a single character in the document, visible or tombstoned.
// Per section 9, each record owns its OriginClock by value.
type CharRecord struct {
	ID          CharID
	Value       rune
	OriginClock vclock.Clock
	Visible     bool
}

// Document is the ordered sequence of CharRecords, sorted at all times by
// the total order defined in section 4.1 (invariant 4).
type Document struct {
	records []CharRecord

	// pendingDeletes buffers Delete targets whose Insert has not yet
	// arrived (section 4.3, delete-overtakes-insert).
	pendingDeletes map[CharID]struct{}
}

// New returns an empty document.
func New() *Document {
	return &Document{pendingDeletes: make(map[CharID]struct{})}
}

// Less implements the total order from section 4.1: compare origin
// clocks componentwise over the union of sites in ascending lexicographic
// order, then fall back to (site, counter).
func Less(a, b CharRecord) bool {
	if less, equal := vclock.Less(a.OriginClock, b.OriginClock); !equal {
		return less
	}
	return a.ID.Less(b.ID)
}

// Len returns the number of records, visible and tombstoned.
func (d *Document) Len() int {
	return len(d.records)
}

// VisibleLen returns the number of visible records.
func (d *Document) VisibleLen() int {
	n := 0
	for _, r := range d.records {
		if r.Visible {
			n++
		}
	}
	return n
}

// Content renders the currently visible text.
func (d *Document) Content() string {
	var b strings.Builder
	for _, r := range d.records {
		if r.Visible {
			b.WriteRune(r.Value)
		}
	}
	return b.String()
}

// Records returns the full sequence, including tombstones, for
// inspection, persistence, or test assertions. The slice is a copy.
func (d *Document) Records() []CharRecord {
	out := make([]CharRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Restore installs records verbatim, as when reloading persisted state
// (section 6, "Persisted state"). Records must already be in total
// order; Restore does not re-sort them.
func (d *Document) Restore(records []CharRecord) {
	d.records = make([]CharRecord, len(records))
	copy(d.records, records)
	if d.pendingDeletes == nil {
		d.pendingDeletes = make(map[CharID]struct{})
	}
}

// VisibleToInternal maps a 0-based visible position to an internal index,
// an O(k) scan per section 4.1. Returns the internal index to insert
// before, i.e. the position after the (position-1)th visible record.
func (d *Document) VisibleToInternal(position int) int {
	if position <= 0 {
		return 0
	}
	count := 0
	for i, r := range d.records {
		if r.Visible {
			count++
			if count == position {
				return i + 1
			}
		}
	}
	return len(d.records)
}

// InternalToVisible returns the visible index that the record at internal
// index k represents, or -1 if the record is a tombstone.
func (d *Document) InternalToVisible(k int) int {
	if k < 0 || k >= len(d.records) {
		return -1
	}
	if !d.records[k].Visible {
		return -1
	}
	count := 0
	for i := 0; i < k; i++ {
		if d.records[i].Visible {
			count++
		}
	}
	return count
}

// findID returns the internal index of id, or -1 if absent.
func (d *Document) findID(id CharID) int {
	for i, r := range d.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// insertSorted places rec at the unique position its (OriginClock, ID)
// dictates under Less, per section 4.1. Binary search over the already
// sorted slice turns the linear scan an insert would otherwise need
// into O(log n) comparisons.
func (d *Document) insertSorted(rec CharRecord) {
	i := sort.Search(len(d.records), func(i int) bool {
		return Less(rec, d.records[i])
	})
	d.records = append(d.records, CharRecord{})
	copy(d.records[i+1:], d.records[i:])
	d.records[i] = rec
}

// LocalInsert implements section 4.2's local insert: it clamps position
// to [0, VisibleLen], builds a new CharRecord from the given id and
// causal-context clock snapshot, and places it in sorted order. clock is
// the origin_clock that section 4.1 orders by; callers that also emit an
// Operation envelope track a separate post-increment clock for that
// purpose (see replica.Replica.LocalInsert).
func (d *Document) LocalInsert(id CharID, clock vclock.Clock, position int, value rune) CharRecord {
	if position < 0 {
		position = 0
	}
	if visible := d.VisibleLen(); position > visible {
		position = visible
	}

	rec := CharRecord{
		ID:          id,
		Value:       value,
		OriginClock: clock.Clone(),
		Visible:     true,
	}
	d.insertSorted(rec)
	return rec
}

// LocalDelete implements section 4.2's local delete: resolve position to
// an internal index, and flip visibility. Returns ok=false (NoOp) if the
// position is out of range or already a tombstone.
func (d *Document) LocalDelete(position int) (CharID, bool) {
	if position < 0 || position >= d.VisibleLen() {
		return CharID{}, false
	}
	idx := d.visibleNth(position)
	if idx < 0 || !d.records[idx].Visible {
		return CharID{}, false
	}
	d.records[idx].Visible = false
	return d.records[idx].ID, true
}

// visibleNth returns the internal index of the nth (0-based) visible
// record, or -1 if out of range.
func (d *Document) visibleNth(n int) int {
	count := 0
	for i, r := range d.records {
		if r.Visible {
			if count == n {
				return i
			}
			count++
		}
	}
	return -1
}

// ApplyRemoteInsert implements section 4.3's Insert handling: idempotent
// on duplicate ids, otherwise positioned by the total order. It also
// retries any buffered Delete targeting the new record, handling the
// delete-overtakes-insert case.
func (d *Document) ApplyRemoteInsert(rec CharRecord) {
	if d.findID(rec.ID) != -1 {
		return
	}
	rec.OriginClock = rec.OriginClock.Clone()
	d.insertSorted(rec)

	if d.pendingDeletes == nil {
		d.pendingDeletes = make(map[CharID]struct{})
	}
	if _, buffered := d.pendingDeletes[rec.ID]; buffered {
		delete(d.pendingDeletes, rec.ID)
		idx := d.findID(rec.ID)
		if idx != -1 {
			d.records[idx].Visible = false
		}
	}
}

// ApplyRemoteDelete implements section 4.3's Delete handling: if the
// target is present, it is tombstoned; otherwise the delete is buffered
// for replay on the next matching Insert.
func (d *Document) ApplyRemoteDelete(target CharID) {
	idx := d.findID(target)
	if idx == -1 {
		if d.pendingDeletes == nil {
			d.pendingDeletes = make(map[CharID]struct{})
		}
		d.pendingDeletes[target] = struct{}{}
		return
	}
	d.records[idx].Visible = false
}

// At returns the record at an internal index.
func (d *Document) At(i int) (CharRecord, error) {
	if i < 0 || i >= len(d.records) {
		return CharRecord{}, ErrInvalidPosition
	}
	return d.records[i], nil
}
