package envelope

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/vclock"
)

// TestRoundTrip_Operation verifies Serialize -> deserialize -> Serialize
// produces the same bytes, per section 8's round-trip law.
func TestRoundTrip_Operation(t *testing.T) {
	clock := vclock.New()
	clock.Increment("A")

	rec := crdt.CharRecord{ID: crdt.CharID{Site: "A", Counter: 1}, Value: 'x', OriginClock: clock, Visible: true}
	op := OperationPayload{Type: "insert", Position: 0, Clock: clock, Record: recordWirePtr(RecordToWire(rec))}

	env, err := NewOperation("A", op)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}

	data1, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Unmarshal(data1)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	data2, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal (second): %v", err)
	}

	if diff := cmp.Diff(string(data1), string(data2)); diff != "" {
		t.Errorf("round trip mismatch (-first +second):\n%s", diff)
	}
}

// TestRecordWire_RoundTrip verifies a CharRecord survives the wire
// conversion.
func TestRecordWire_RoundTrip(t *testing.T) {
	clock := vclock.New()
	clock.Increment("A")
	clock.Increment("B")

	rec := crdt.CharRecord{ID: crdt.CharID{Site: "A", Counter: 3}, Value: '€', OriginClock: clock, Visible: true}

	wire := RecordToWire(rec)
	back, err := RecordFromWire(wire)
	if err != nil {
		t.Fatalf("RecordFromWire: %v", err)
	}

	if diff := cmp.Diff(rec, back); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

// TestUnmarshal_MalformedEnvelope verifies malformed bytes are reported
// as an error rather than panicking, per section 7.
func TestUnmarshal_MalformedEnvelope(t *testing.T) {
	if _, err := Unmarshal([]byte(`{not json`)); err == nil {
		t.Errorf("expected error for malformed envelope")
	}
	if _, err := Unmarshal([]byte(`{}`)); err == nil {
		t.Errorf("expected error for envelope missing kind")
	}
}

func recordWirePtr(w RecordWire) *RecordWire { return &w }
