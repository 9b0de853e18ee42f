// Package delivery implements the outbound acknowledgement protocol and
// inbound dedup set from section 4.4: at-least-once delivery with
// retransmission, and at-most-once effect via a bounded seen set.
package delivery

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/inkline-collab/inkline/envelope"
)

// DefaultMaxRetries is section 4.4's recommended retry budget.
const DefaultMaxRetries = 3

// pendingEntry tracks one outbound Envelope awaiting acknowledgement.
type pendingEntry struct {
	env      envelope.Envelope
	retries  int
	sentAt   time.Time
	nextFire time.Time
	backoff  *backoff.ExponentialBackOff
}

// Tracker owns the pending_acks table for a single replica's outbound
// envelopes. It is not safe for concurrent use; section 5 requires it be
// driven by a single event loop.
type Tracker struct {
	maxRetries int
	pending    map[string]*pendingEntry
	now        func() time.Time
}

// NewTracker returns a Tracker with the given retry budget. A
// non-positive maxRetries falls back to DefaultMaxRetries.
func NewTracker(maxRetries int) *Tracker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Tracker{
		maxRetries: maxRetries,
		pending:    make(map[string]*pendingEntry),
		now:        time.Now,
	}
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // the Tracker owns the retry budget, not the backoff.
	b.Reset()
	return b
}

// TrackOutbound registers env in the pending_acks table with retries=0.
func (t *Tracker) TrackOutbound(env envelope.Envelope) {
	b := newBackoff()
	now := t.now()
	entry := &pendingEntry{
		env:      env,
		sentAt:   now,
		backoff:  b,
		nextFire: now.Add(b.NextBackOff()),
	}
	t.pending[env.MessageID] = entry
}

// Ack removes the entry for ackID, reporting whether one was found.
func (t *Tracker) Ack(ackID string) bool {
	if _, ok := t.pending[ackID]; !ok {
		return false
	}
	delete(t.pending, ackID)
	return true
}

// Tick re-broadcasts entries whose age exceeds their backoff timeout and
// drops entries that have exhausted maxRetries, reporting their message
// ids as delivery-failed (section 4.4, section 7 DeliveryFailed).
func (t *Tracker) Tick(now time.Time) (retransmit []envelope.Envelope, failed []string) {
	for id, entry := range t.pending {
		if now.Before(entry.nextFire) {
			continue
		}
		if entry.retries >= t.maxRetries {
			delete(t.pending, id)
			failed = append(failed, id)
			continue
		}
		entry.retries++
		entry.nextFire = now.Add(entry.backoff.NextBackOff())
		retransmit = append(retransmit, entry.env)
	}
	return retransmit, failed
}

// Pending reports how many envelopes are awaiting acknowledgement.
func (t *Tracker) Pending() int {
	return len(t.pending)
}
