// Package envelope defines the wire format exchanged between replicas:
// operations, acknowledgements, cursor reports, and presence heartbeats,
// per section 6's normative Envelope format.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/vclock"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindOperation Kind = "operation"
	KindAck       Kind = "ack"
	KindCursor    Kind = "cursor"
	KindPresence  Kind = "presence"
)

// Broadcast is the wildcard target meaning "every peer".
const Broadcast = "broadcast"

// Envelope is the unit exchanged over the wire. Payload is one of
// OperationPayload, AckPayload, CursorPayload, or PresencePayload,
// selected by Kind.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	MessageID  string          `json:"message_id"`
	OriginSite string          `json:"origin_site"`
	Target     string          `json:"target"`
	SendTime   time.Time       `json:"send_time"`
	Payload    json.RawMessage `json:"payload"`
}

// OperationPayload carries an Insert or Delete, per section 3's
// Operation entity.
type OperationPayload struct {
	Type     string       `json:"type"` // "insert" | "delete"
	Position int          `json:"position"`
	Clock    vclock.Clock `json:"clock"`
	Record   *RecordWire  `json:"record,omitempty"`
	TargetID string       `json:"target_id,omitempty"`
}

// RecordWire is the wire representation of a CharRecord: Value is a
// one-rune string and ID is the textual "<site>-<counter>" form required
// by section 6.
type RecordWire struct {
	Value       string       `json:"value"`
	ID          string       `json:"id"`
	OriginSite  string       `json:"origin_site"`
	OriginClock vclock.Clock `json:"origin_clock"`
	Visible     bool         `json:"visible"`
}

// AckPayload acknowledges a previously received message.
type AckPayload struct {
	AckID string `json:"ack_id"`
}

// CursorPayload reports a peer's caret, per section 3's CursorReport.
type CursorPayload struct {
	Position  uint32       `json:"position"`
	Selection *[2]uint32   `json:"selection,omitempty"`
	Clock     vclock.Clock `json:"clock"`
}

// PresencePayload is an opaque heartbeat; the core never inspects it
// beyond forwarding, since presence is out of scope per section 1.
type PresencePayload struct {
	Session   string    `json:"session"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageID constructs a message id unique across all replicas and
// time, per section 4.4: site id, wall-clock, and a random salt. The salt
// is a UUIDv4.
func NewMessageID(site string) string {
	return fmt.Sprintf("%s-%d-%s", site, time.Now().UnixNano(), uuid.New().String())
}

// RecordToWire converts a CharRecord into its wire representation.
func RecordToWire(rec crdt.CharRecord) RecordWire {
	return RecordWire{
		Value:       string(rec.Value),
		ID:          rec.ID.String(),
		OriginSite:  rec.ID.Site,
		OriginClock: rec.OriginClock.Clone(),
		Visible:     rec.Visible,
	}
}

// RecordFromWire parses a RecordWire back into a CharRecord.
func RecordFromWire(w RecordWire) (crdt.CharRecord, error) {
	id, err := crdt.ParseCharID(w.ID)
	if err != nil {
		return crdt.CharRecord{}, err
	}
	runes := []rune(w.Value)
	var value rune
	if len(runes) > 0 {
		value = runes[0]
	}
	clock := w.OriginClock
	if clock == nil {
		clock = vclock.New()
	}
	return crdt.CharRecord{
		ID:          id,
		Value:       value,
		OriginClock: clock,
		Visible:     w.Visible,
	}, nil
}

// Marshal encodes an Envelope to bytes.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes bytes into an Envelope. A decode failure maps to
// section 7's MalformedEnvelope condition; callers should drop the
// message and continue rather than propagate the error into CRDT state.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: malformed envelope: %w", err)
	}
	if e.Kind == "" {
		return Envelope{}, fmt.Errorf("envelope: missing kind")
	}
	return e, nil
}

// DecodeOperation extracts the OperationPayload from e. e.Kind must be
// KindOperation.
func DecodeOperation(e Envelope) (OperationPayload, error) {
	var op OperationPayload
	if err := json.Unmarshal(e.Payload, &op); err != nil {
		return OperationPayload{}, fmt.Errorf("envelope: malformed operation payload: %w", err)
	}
	return op, nil
}

// DecodeAck extracts the AckPayload from e.
func DecodeAck(e Envelope) (AckPayload, error) {
	var ack AckPayload
	if err := json.Unmarshal(e.Payload, &ack); err != nil {
		return AckPayload{}, fmt.Errorf("envelope: malformed ack payload: %w", err)
	}
	return ack, nil
}

// DecodeCursor extracts the CursorPayload from e.
func DecodeCursor(e Envelope) (CursorPayload, error) {
	var c CursorPayload
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return CursorPayload{}, fmt.Errorf("envelope: malformed cursor payload: %w", err)
	}
	return c, nil
}

// DecodePresence extracts the PresencePayload from e.
func DecodePresence(e Envelope) (PresencePayload, error) {
	var p PresencePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return PresencePayload{}, fmt.Errorf("envelope: malformed presence payload: %w", err)
	}
	return p, nil
}

// encodePayload is a helper for building an Envelope around any payload
// value.
func encodePayload(kind Kind, site, target string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:       kind,
		MessageID:  NewMessageID(site),
		OriginSite: site,
		Target:     target,
		SendTime:   time.Now(),
		Payload:    raw,
	}, nil
}

// NewOperation builds an Envelope wrapping an OperationPayload, broadcast
// to all peers.
func NewOperation(site string, op OperationPayload) (Envelope, error) {
	return encodePayload(KindOperation, site, Broadcast, op)
}

// NewAck builds an Envelope acknowledging messageID, targeted at the
// original sender.
func NewAck(site, target, messageID string) (Envelope, error) {
	return encodePayload(KindAck, site, target, AckPayload{AckID: messageID})
}

// NewCursor builds an Envelope reporting a cursor position, broadcast to
// all peers.
func NewCursor(site string, c CursorPayload) (Envelope, error) {
	return encodePayload(KindCursor, site, Broadcast, c)
}

// NewPresence builds a presence heartbeat Envelope.
func NewPresence(site string, p PresencePayload) (Envelope, error) {
	return encodePayload(KindPresence, site, Broadcast, p)
}
