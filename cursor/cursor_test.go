package cursor

import (
	"testing"

	"github.com/inkline-collab/inkline/vclock"
)

func clockOf(pairs ...interface{}) vclock.Clock {
	c := vclock.New()
	for i := 0; i < len(pairs); i += 2 {
		c[pairs[i].(string)] = uint64(pairs[i+1].(int))
	}
	return c
}

// TestTransform_ConcurrentInsertsIgnored reproduces scenario 4 of section
// 8: C's inserts carry a clock incomparable with A's cursor report (A
// has no knowledge of C's edits and vice versa), so they do not move the
// transformed position.
func TestTransform_ConcurrentInsertsIgnored(t *testing.T) {
	reportClock := clockOf("A", 4)
	log := []LoggedOp{
		{OriginSite: "C", Clock: clockOf("C", 1), Insert: true, Position: 0},
		{OriginSite: "C", Clock: clockOf("C", 2), Insert: true, Position: 1},
		{OriginSite: "C", Clock: clockOf("C", 3), Insert: true, Position: 2},
	}

	got := Transform("A", reportClock, 5, log)
	if got != 5 {
		t.Errorf("Transform() = %v, want 5 (concurrent ops must not shift the cursor)", got)
	}
}

// TestTransform_SameSiteFutureOpsIgnored verifies ops originated by the
// reporting site itself are never replayed against its own report, even
// though their clock is strictly after it: that site's own clock
// component only ever advances through its own edits, so these are
// never concurrent with its report, they are just that site continuing
// to type, and it already knows its own caret position without a replay.
func TestTransform_SameSiteFutureOpsIgnored(t *testing.T) {
	reportClock := clockOf("B", 0)
	log := []LoggedOp{
		{OriginSite: "B", Clock: clockOf("B", 1), Insert: true, Position: 0},
		{OriginSite: "B", Clock: clockOf("B", 2), Insert: true, Position: 1},
		{OriginSite: "B", Clock: clockOf("B", 3), Insert: true, Position: 2},
	}

	got := Transform("B", reportClock, 5, log)
	if got != 5 {
		t.Errorf("Transform() = %v, want 5 (a site's own later ops must not shift its own reported cursor)", got)
	}
}

// TestTransform_StrictlyAfterInsertShiftsCursor reproduces scenario 5 of
// section 8: an insert from another site with a clock strictly after the
// report shifts the cursor forward when its position is at or before the
// reported one.
func TestTransform_StrictlyAfterInsertShiftsCursor(t *testing.T) {
	reportClock := clockOf("A", 4)
	log := []LoggedOp{
		{OriginSite: "B", Clock: clockOf("A", 4, "B", 1), Insert: true, Position: 3},
	}

	got := Transform("A", reportClock, 10, log)
	if got != 11 {
		t.Errorf("Transform() = %v, want 11", got)
	}
}

// TestTransform_InsertAfterCursorDoesNotShift verifies an insert past the
// reported position leaves the cursor alone.
func TestTransform_InsertAfterCursorDoesNotShift(t *testing.T) {
	reportClock := clockOf("A", 4)
	log := []LoggedOp{
		{OriginSite: "B", Clock: clockOf("A", 4, "B", 1), Insert: true, Position: 20},
	}

	got := Transform("A", reportClock, 10, log)
	if got != 10 {
		t.Errorf("Transform() = %v, want 10", got)
	}
}

// TestTransform_DeleteBeforeCursorShiftsBack verifies a strictly-after
// delete from another site before the cursor decrements it, floored at 0.
func TestTransform_DeleteBeforeCursorShiftsBack(t *testing.T) {
	reportClock := clockOf("A", 1)
	log := []LoggedOp{
		{OriginSite: "B", Clock: clockOf("A", 1, "B", 1), Insert: false, Position: 0},
		{OriginSite: "B", Clock: clockOf("A", 1, "B", 2), Insert: false, Position: 0},
	}

	got := Transform("A", reportClock, 1, log)
	if got != 0 {
		t.Errorf("Transform() = %v, want 0 (floored)", got)
	}
}

// TestRegistry_LastWriterWins verifies a newer report supersedes an
// older one and a concurrent one does not.
func TestRegistry_LastWriterWins(t *testing.T) {
	reg := NewRegistry()

	reg.Update(Report{Site: "B", Position: 5, Clock: clockOf("B", 1)})
	reg.Update(Report{Site: "B", Position: 9, Clock: clockOf("B", 2)})

	got, ok := reg.Get("B")
	if !ok || got.Position != 9 {
		t.Fatalf("Get(B) = %+v, want position 9", got)
	}

	// A concurrent report (different site component, incomparable) must
	// not overwrite the newer one.
	reg.Update(Report{Site: "B", Position: 1, Clock: clockOf("C", 1)})
	got, _ = reg.Get("B")
	if got.Position != 9 {
		t.Errorf("concurrent report should not overwrite, got position %v", got.Position)
	}
}
