package replica

import (
	"github.com/inkline-collab/inkline/crdt"
	"github.com/inkline-collab/inkline/cursor"
	"github.com/inkline-collab/inkline/envelope"
	"github.com/inkline-collab/inkline/vclock"
)

// ApplyInbound implements section 6's apply_inbound command: parse the
// wire bytes, apply the inbound protocol from section 4.4 (loopback
// suppression, dedup, dispatch by kind), and for Operations, section
// 4.3's merge/insert/delete semantics.
func (r *Replica) ApplyInbound(data []byte) (ApplyResult, error) {
	env, err := envelope.Unmarshal(data)
	if err != nil {
		r.logger.WithError(err).Warn("replica: malformed envelope")
		return ApplyResult{Dropped: true, Reason: "malformed envelope"}, nil
	}

	// Loopback suppression (section 4.4).
	if env.OriginSite == r.site {
		return ApplyResult{Dropped: true, Reason: "loopback"}, nil
	}

	r.markPeerSeen(env.OriginSite)

	// Acks are not subject to the seen-message dedup: they are not
	// themselves retried, and their target may need the ack even if a
	// duplicate slipped through.
	if env.Kind == envelope.KindAck {
		return r.applyAck(env)
	}

	if !r.seen.MarkSeen(env.MessageID) {
		return ApplyResult{Dropped: true, Reason: "duplicate message"}, nil
	}

	switch env.Kind {
	case envelope.KindOperation:
		return r.applyOperation(env)
	case envelope.KindCursor:
		return r.applyCursor(env)
	case envelope.KindPresence:
		// Presence is forwarded for host observability only; the core
		// does not interpret it further (section 1, out of scope).
		return ApplyResult{Applied: true}, nil
	default:
		r.logger.WithField("kind", env.Kind).Warn("replica: unknown envelope kind")
		return ApplyResult{Dropped: true, Reason: "unknown kind"}, nil
	}
}

func (r *Replica) applyAck(env envelope.Envelope) (ApplyResult, error) {
	ack, err := envelope.DecodeAck(env)
	if err != nil {
		r.logger.WithError(err).Warn("replica: malformed ack payload")
		return ApplyResult{Dropped: true, Reason: "malformed ack"}, nil
	}
	r.tracker.Ack(ack.AckID)
	return ApplyResult{Applied: true}, nil
}

func (r *Replica) applyOperation(env envelope.Envelope) (ApplyResult, error) {
	payload, err := envelope.DecodeOperation(env)
	if err != nil {
		r.logger.WithError(err).Warn("replica: malformed operation payload")
		return ApplyResult{Dropped: true, Reason: "malformed operation"}, nil
	}

	// Merge clocks (section 4.3, step 2).
	r.clock.Merge(payload.Clock)
	r.recordPeerClock(env.OriginSite, payload.Clock)

	var op Operation
	switch payload.Type {
	case "insert":
		if payload.Record == nil {
			r.logger.Warn("replica: insert operation missing record")
			return ApplyResult{Dropped: true, Reason: "missing record"}, nil
		}
		rec, err := envelope.RecordFromWire(*payload.Record)
		if err != nil {
			r.logger.WithError(err).Warn("replica: malformed record")
			return ApplyResult{Dropped: true, Reason: "malformed record"}, nil
		}
		r.doc.ApplyRemoteInsert(rec)
		r.log = append(r.log, cursor.LoggedOp{OriginSite: env.OriginSite, Clock: payload.Clock, Insert: true, Position: payload.Position})
		op = Operation{Kind: OpInsert, Position: payload.Position, Clock: payload.Clock, Record: rec}

	case "delete":
		targetID, err := crdt.ParseCharID(payload.TargetID)
		if err != nil {
			r.logger.WithError(err).Warn("replica: malformed delete target")
			return ApplyResult{Dropped: true, Reason: "malformed target_id"}, nil
		}
		r.doc.ApplyRemoteDelete(targetID)
		r.log = append(r.log, cursor.LoggedOp{OriginSite: env.OriginSite, Clock: payload.Clock, Insert: false, Position: payload.Position})
		op = Operation{Kind: OpDelete, Position: payload.Position, Clock: payload.Clock, TargetID: targetID}

	default:
		r.logger.WithField("type", payload.Type).Warn("replica: unknown operation type")
		return ApplyResult{Dropped: true, Reason: "unknown operation type"}, nil
	}

	r.callbacks.OnRemoteApplied(op)

	// On successful application, emit an Ack to the origin (section 4.4).
	ack, err := envelope.NewAck(r.site, env.OriginSite, env.MessageID)
	if err != nil {
		r.logger.WithError(err).Error("replica: building ack envelope")
		return ApplyResult{Applied: true}, nil
	}
	r.callbacks.OnLocalOperation(ack)

	return ApplyResult{Applied: true}, nil
}

func (r *Replica) applyCursor(env envelope.Envelope) (ApplyResult, error) {
	payload, err := envelope.DecodeCursor(env)
	if err != nil {
		r.logger.WithError(err).Warn("replica: malformed cursor payload")
		return ApplyResult{Dropped: true, Reason: "malformed cursor"}, nil
	}

	r.cursors.Update(cursor.Report{
		Site:      env.OriginSite,
		Position:  payload.Position,
		Selection: payload.Selection,
		Clock:     payload.Clock,
	})

	transformed := cursor.Transform(env.OriginSite, payload.Clock, payload.Position, r.log)
	r.callbacks.OnCursorUpdated(env.OriginSite, transformed, payload.Selection)

	return ApplyResult{Applied: true}, nil
}

// recordPeerClock tracks the last clock observed from origin, used as
// the causal-safety oracle for GC (section 4.6).
func (r *Replica) recordPeerClock(origin string, clock vclock.Clock) {
	if origin == "" {
		return
	}
	existing, ok := r.peerClocks[origin]
	if !ok {
		r.peerClocks[origin] = clock.Clone()
		return
	}
	existing.Merge(clock)
}
