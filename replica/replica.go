// Package replica wires the crdt, vclock, envelope, delivery, and cursor
// packages into the single-threaded event-loop core described in
// sections 5 and 6: a state machine driven by local edits, received
// envelopes, and timer ticks, with a narrow command/callback surface to
// its host.
package replica

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/cursor"
	"github.com/inkline-collab/inkline/delivery"
	"github.com/inkline-collab/inkline/envelope"
	"github.com/inkline-collab/inkline/vclock"
)

// Callbacks are the core -> host notifications from section 6.
type Callbacks struct {
	OnLocalOperation func(envelope.Envelope)
	OnRemoteApplied  func(Operation)
	OnCursorUpdated  func(site string, position uint32, selection *[2]uint32)
	OnPeerJoin       func(site string)
	OnPeerLeave      func(site string)
	OnDeliveryFailed func(messageID string)
}

func noopCallbacks() Callbacks {
	return Callbacks{
		OnLocalOperation: func(envelope.Envelope) {},
		OnRemoteApplied:  func(Operation) {},
		OnCursorUpdated:  func(string, uint32, *[2]uint32) {},
		OnPeerJoin:       func(string) {},
		OnPeerLeave:      func(string) {},
		OnDeliveryFailed: func(string) {},
	}
}

// fill replaces any nil callback field with a no-op, so Replica never
// needs to nil-check before invoking one.
func (c Callbacks) fill() Callbacks {
	d := noopCallbacks()
	if c.OnLocalOperation != nil {
		d.OnLocalOperation = c.OnLocalOperation
	}
	if c.OnRemoteApplied != nil {
		d.OnRemoteApplied = c.OnRemoteApplied
	}
	if c.OnCursorUpdated != nil {
		d.OnCursorUpdated = c.OnCursorUpdated
	}
	if c.OnPeerJoin != nil {
		d.OnPeerJoin = c.OnPeerJoin
	}
	if c.OnPeerLeave != nil {
		d.OnPeerLeave = c.OnPeerLeave
	}
	if c.OnDeliveryFailed != nil {
		d.OnDeliveryFailed = c.OnDeliveryFailed
	}
	return d
}

// Options configures a new Replica.
type Options struct {
	Site       string
	MaxRetries int // default delivery.DefaultMaxRetries
	SeenCap    int // default delivery.DefaultSeenCapacity
	Logger     *logrus.Logger
	Callbacks  Callbacks
}

// Replica is a single site's view of the document, clock, delivery
// state, and cursor registry (section 2's "replica"). It is not safe for
// concurrent use: section 5 requires a single event loop own it.
type Replica struct {
	site    string
	counter uint64 // per-replica char counter, independent of the vector clock.
	clock   vclock.Clock

	doc     *crdt.Document
	tracker *delivery.Tracker
	seen    *delivery.SeenSet
	cursors *cursor.Registry

	log        []cursor.LoggedOp
	peerClocks map[string]vclock.Clock
	knownPeers map[string]bool

	online    bool
	logger    *logrus.Logger
	callbacks Callbacks
}

// New constructs a Replica for site with an empty document.
func New(opts Options) *Replica {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Replica{
		site:       opts.Site,
		clock:      vclock.New(),
		doc:        crdt.New(),
		tracker:    delivery.NewTracker(opts.MaxRetries),
		seen:       delivery.NewSeenSet(opts.SeenCap),
		cursors:    cursor.NewRegistry(),
		peerClocks: make(map[string]vclock.Clock),
		knownPeers: make(map[string]bool),
		online:     true,
		logger:     logger,
		callbacks:  opts.Callbacks.fill(),
	}
}

// Site returns this replica's site id.
func (r *Replica) Site() string { return r.site }

// Text returns an atomic point-in-time snapshot of the visible document,
// per section 5's "read-only snapshot" allowance.
func (r *Replica) Text() string { return r.doc.Content() }

// Document returns a copy of the full record sequence, including
// tombstones, suitable for host-side persistence (section 6).
func (r *Replica) Document() []crdt.CharRecord { return r.doc.Records() }

// Clock returns a copy of the current vector clock.
func (r *Replica) Clock() vclock.Clock { return r.clock.Clone() }

// Restore installs a previously persisted document and clock (section
// 6's "Persisted state"), setting the local counter so that the next
// local insert uses one more than the maximum counter this site issued.
func (r *Replica) Restore(records []crdt.CharRecord, clock vclock.Clock) {
	r.doc.Restore(records)
	r.clock = clock.Clone()

	var maxCounter uint64
	for _, rec := range records {
		if rec.ID.Site == r.site && rec.ID.Counter > maxCounter {
			maxCounter = rec.ID.Counter
		}
	}
	r.counter = maxCounter
}

// SetOnline implements section 6's set_online command. While offline,
// outbound envelopes continue to accumulate in pending_acks and keep
// retransmitting on Tick; no protocol-level replay is triggered on
// return to online, per section 5.
func (r *Replica) SetOnline(online bool) { r.online = online }

// LocalInsert implements section 4.2's local insert. The character's
// OriginClock captures the causal context this edit depends on (the
// clock as it stood before this edit's own increment); the Operation and
// envelope instead carry the post-increment clock, since that is what
// section 4.3's merge and section 4.5's cursor transform need: "have you
// observed this operation's own issuance yet". Two concurrently-inserted
// characters that depend on the same causal context therefore compare
// equal on OriginClock and fall through to the (site, counter) tie-break
// in section 4.1 — see DESIGN.md's "Open Question decisions" for the
// ambiguity this resolves.
func (r *Replica) LocalInsert(position int, value rune) (Operation, envelope.Envelope, error) {
	causalContext := r.clock.Clone()

	r.counter++
	r.clock.Increment(r.site)
	id := crdt.CharID{Site: r.site, Counter: r.counter}
	postClock := r.clock.Clone()

	rec := r.doc.LocalInsert(id, causalContext, position, value)

	op := Operation{Kind: OpInsert, Position: position, Clock: postClock, Record: rec}
	r.log = append(r.log, cursor.LoggedOp{OriginSite: r.site, Clock: postClock, Insert: true, Position: position})

	wire := envelope.RecordToWire(rec)
	env, err := envelope.NewOperation(r.site, envelope.OperationPayload{
		Type:     "insert",
		Position: position,
		Clock:    postClock,
		Record:   &wire,
	})
	if err != nil {
		return op, envelope.Envelope{}, fmt.Errorf("replica: building insert envelope: %w", err)
	}

	r.tracker.TrackOutbound(env)
	r.callbacks.OnLocalOperation(env)
	return op, env, nil
}

// LocalDelete implements section 4.2's local delete. ok is false when the
// position is out of range or already a tombstone (section 7's NoOp).
func (r *Replica) LocalDelete(position int) (op Operation, env envelope.Envelope, ok bool) {
	targetID, applied := r.doc.LocalDelete(position)
	if !applied {
		return Operation{}, envelope.Envelope{}, false
	}

	r.clock.Increment(r.site)
	clockSnapshot := r.clock.Clone()

	op = Operation{Kind: OpDelete, Position: position, Clock: clockSnapshot, TargetID: targetID}
	r.log = append(r.log, cursor.LoggedOp{OriginSite: r.site, Clock: clockSnapshot, Insert: false, Position: position})

	var err error
	env, err = envelope.NewOperation(r.site, envelope.OperationPayload{
		Type:     "delete",
		Position: position,
		Clock:    clockSnapshot,
		TargetID: targetID.String(),
	})
	if err != nil {
		r.logger.WithError(err).Error("replica: building delete envelope")
		return op, envelope.Envelope{}, false
	}

	r.tracker.TrackOutbound(env)
	r.callbacks.OnLocalOperation(env)
	return op, env, true
}

// ReportCursor implements section 6's report_cursor command: snapshot the
// current clock and build a Cursor envelope to broadcast.
func (r *Replica) ReportCursor(position uint32, selection *[2]uint32) (envelope.Envelope, error) {
	clockSnapshot := r.clock.Clone()
	env, err := envelope.NewCursor(r.site, envelope.CursorPayload{
		Position:  position,
		Selection: selection,
		Clock:     clockSnapshot,
	})
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("replica: building cursor envelope: %w", err)
	}
	return env, nil
}

// Tick implements section 6's tick command, driving delivery
// retransmission (section 4.4) and reporting exhausted entries as
// delivery-failed (section 7).
func (r *Replica) Tick(now time.Time) []envelope.Envelope {
	retransmit, failed := r.tracker.Tick(now)
	for _, id := range failed {
		r.logger.WithField("message_id", id).Warn("replica: delivery failed after max retries")
		r.callbacks.OnDeliveryFailed(id)
	}
	return retransmit
}

// GC implements section 6's gc command, deferring the causal-safety
// check to crdt.Document.GC using the last clock observed from each
// known peer.
func (r *Replica) GC(keepRecent int) error {
	if err := r.doc.GC(keepRecent, r.peerClocks); err != nil {
		r.logger.WithError(err).Warn("replica: gc refused")
		return err
	}
	return nil
}

// markPeerSeen invokes OnPeerJoin the first time a site is observed.
func (r *Replica) markPeerSeen(site string) {
	if site == "" || site == r.site {
		return
	}
	if !r.knownPeers[site] {
		r.knownPeers[site] = true
		r.callbacks.OnPeerJoin(site)
	}
}

// MarkPeerLeft lets the host (which owns the transport and therefore
// knows about disconnects) report a peer as gone; presence/liveness
// detection itself is out of scope for the core (section 1).
func (r *Replica) MarkPeerLeft(site string) {
	if r.knownPeers[site] {
		delete(r.knownPeers, site)
		r.callbacks.OnPeerLeave(site)
	}
}
