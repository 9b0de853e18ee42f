package crdt

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/inkline-collab/inkline/vclock"
)

// TestDocument_Empty verifies a new document has no records.
func TestDocument_Empty(t *testing.T) {
	doc := New()
	if got, want := doc.Len(), 0; got != want {
		t.Errorf("Len() = %v, want %v", got, want)
	}
	if got, want := doc.Content(), ""; got != want {
		t.Errorf("Content() = %q, want %q", got, want)
	}
}

// TestLocalInsert verifies a single local insert produces visible content
// at the requested position.
func TestLocalInsert(t *testing.T) {
	doc := New()
	clock := vclock.New()
	clock.Increment("site-a")

	doc.LocalInsert(CharID{Site: "site-a", Counter: 1}, clock, 0, 'a')

	if got, want := doc.Content(), "a"; got != want {
		t.Errorf("Content() = %q, want %q", got, want)
	}
}

// TestLocalInsert_ClampsPosition verifies insert positions are clamped to
// the visible range, per section 4.2.
func TestLocalInsert_ClampsPosition(t *testing.T) {
	doc := New()
	clock := vclock.New()
	clock.Increment("site-a")
	doc.LocalInsert(CharID{Site: "site-a", Counter: 1}, clock, 100, 'a')

	if got, want := doc.Content(), "a"; got != want {
		t.Errorf("Content() = %q, want %q", got, want)
	}
}

// TestLocalDelete_NoOp verifies deleting out of range returns NoOp.
func TestLocalDelete_NoOp(t *testing.T) {
	doc := New()
	if _, ok := doc.LocalDelete(0); ok {
		t.Errorf("LocalDelete on empty doc should be NoOp")
	}
}

// TestLocalDelete_AlreadyTombstone verifies a second delete at the same
// position is a NoOp since the visible length shrinks after the first.
func TestLocalDelete_AlreadyTombstone(t *testing.T) {
	doc := New()
	clock := vclock.New()
	clock.Increment("site-a")
	doc.LocalInsert(CharID{Site: "site-a", Counter: 1}, clock, 0, 'a')

	id, ok := doc.LocalDelete(0)
	if !ok {
		t.Fatalf("first delete should apply")
	}
	if id.Site != "site-a" {
		t.Errorf("deleted id = %v, want site-a", id)
	}
	if _, ok := doc.LocalDelete(0); ok {
		t.Errorf("second delete at now-empty position should be NoOp")
	}
}

// TestSimultaneousInsertSamePosition reproduces scenario 1 of section 8:
// two sites concurrently insert at the same visible position; the
// lexicographically smaller site wins under equal clocks.
func TestSimultaneousInsertSamePosition(t *testing.T) {
	base := New()
	seed := vclock.New()
	for i, ch := range "aaa" {
		seed.Increment("seed")
		base.LocalInsert(CharID{Site: "seed", Counter: uint64(i + 1)}, seed, i, ch)
	}

	replicaA := New()
	replicaA.Restore(base.Records())
	replicaB := New()
	replicaB.Restore(base.Records())

	// Both inserts share the same causal context (the converged "aaa"
	// state) since neither site has observed the other's edit yet; their
	// OriginClocks are therefore equal and section 4.1 falls through to
	// the (site, counter) tie-break.
	causalContext := seed.Clone()
	recA := CharRecord{ID: CharID{Site: "s-aa", Counter: 1}, Value: 'X', OriginClock: causalContext.Clone(), Visible: true}
	recB := CharRecord{ID: CharID{Site: "s-bb", Counter: 1}, Value: 'Y', OriginClock: causalContext.Clone(), Visible: true}

	// A inserts locally, then receives B's remote insert.
	replicaA.insertSorted(recA)
	replicaA.ApplyRemoteInsert(recB)

	// B inserts locally, then receives A's remote insert (different order).
	replicaB.insertSorted(recB)
	replicaB.ApplyRemoteInsert(recA)

	if got, want := replicaA.Content(), "aXYaa"; got != want {
		t.Errorf("replicaA.Content() = %q, want %q", got, want)
	}
	if got, want := replicaB.Content(), replicaA.Content(); got != want {
		t.Errorf("replicaB.Content() = %q, want replicaA.Content() %q", got, want)
	}
}

// TestDeleteOvertakesInsert reproduces scenario 2 of section 8: a Delete
// for an id arrives before its Insert; it must be buffered and replayed.
func TestDeleteOvertakesInsert(t *testing.T) {
	doc := New()
	target := CharID{Site: "A", Counter: 7}

	doc.ApplyRemoteDelete(target)
	if doc.Len() != 0 {
		t.Fatalf("buffered delete should not create a record")
	}

	clock := vclock.New()
	clock.Increment("A")
	rec := CharRecord{ID: target, Value: 'z', OriginClock: clock, Visible: true}
	doc.ApplyRemoteInsert(rec)

	if doc.Len() != 1 {
		t.Fatalf("insert should have been applied, len = %v", doc.Len())
	}
	if doc.Content() != "" {
		t.Errorf("character should be tombstoned immediately, got content %q", doc.Content())
	}
}

// TestApplyRemoteInsert_Idempotent verifies a duplicate insert is dropped.
func TestApplyRemoteInsert_Idempotent(t *testing.T) {
	doc := New()
	clock := vclock.New()
	clock.Increment("A")
	rec := CharRecord{ID: CharID{Site: "A", Counter: 1}, Value: 'a', OriginClock: clock, Visible: true}

	doc.ApplyRemoteInsert(rec)
	doc.ApplyRemoteInsert(rec)

	if doc.Len() != 1 {
		t.Errorf("duplicate insert should be a no-op, len = %v", doc.Len())
	}
}

// TestTotalOrder_Deterministic verifies replaying the same operations in
// a different order converges to the same sequence (universal invariant
// 1, convergence).
func TestTotalOrder_Deterministic(t *testing.T) {
	clockA := vclock.New()
	clockA.Increment("A")
	recA := CharRecord{ID: CharID{Site: "A", Counter: 1}, Value: 'a', OriginClock: clockA}

	clockB := vclock.New()
	clockB.Increment("B")
	recB := CharRecord{ID: CharID{Site: "B", Counter: 1}, Value: 'b', OriginClock: clockB}

	docOrderAB := New()
	docOrderAB.ApplyRemoteInsert(recA)
	docOrderAB.ApplyRemoteInsert(recB)

	docOrderBA := New()
	docOrderBA.ApplyRemoteInsert(recB)
	docOrderBA.ApplyRemoteInsert(recA)

	if diff := cmp.Diff(docOrderAB.Records(), docOrderBA.Records()); diff != "" {
		t.Errorf("documents diverged under reordering (-AB +BA):\n%s", diff)
	}
}

// TestGC_RetainsRecentTombstones verifies GC keeps the requested number
// of most recent tombstones and all visible records.
func TestGC_RetainsRecentTombstones(t *testing.T) {
	doc := New()
	clock := vclock.New()
	for i := 0; i < 5; i++ {
		clock.Increment("A")
		doc.LocalInsert(CharID{Site: "A", Counter: uint64(i + 1)}, clock, i, rune('a'+i))
	}
	for i := 0; i < 5; i++ {
		doc.LocalDelete(0)
	}

	if err := doc.GC(2, nil); err != nil {
		t.Fatalf("GC: %v", err)
	}

	tombstones := 0
	for _, r := range doc.Records() {
		if !r.Visible {
			tombstones++
		}
	}
	if tombstones != 2 {
		t.Errorf("tombstones after GC = %v, want 2", tombstones)
	}
}

// TestGC_RefusesUnsafePrune verifies GC refuses to prune a tombstone a
// peer has not yet observed, per section 4.6's safety condition.
func TestGC_RefusesUnsafePrune(t *testing.T) {
	doc := New()
	clock := vclock.New()
	clock.Increment("A")
	doc.LocalInsert(CharID{Site: "A", Counter: 1}, clock, 0, 'a')
	doc.LocalDelete(0)

	stalePeer := vclock.New() // peer has observed nothing
	peerClocks := map[string]vclock.Clock{"B": stalePeer}

	if err := doc.GC(0, peerClocks); err != ErrGCUnsafe {
		t.Errorf("GC() = %v, want ErrGCUnsafe", err)
	}
}
