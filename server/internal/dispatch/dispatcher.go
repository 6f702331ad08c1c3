package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// maxHistoryLen bounds the recent-alert buffer served by the REST API.
const maxHistoryLen = 200

// Publisher receives every alert the dispatcher emits. Implementations must
// not block: the hub enqueues to per-client buffers, the webhook sender
// delivers asynchronously.
type Publisher interface {
	PublishAlert(a Alert)
}

// sentState is the per-admission deduplication record. epoch increments on
// every return to Normal so a later re-entry into the same tier is a new
// transition, not a duplicate.
type sentState struct {
	lastTier domain.Tier
	epoch    int
}

// Dispatcher detects and publishes tier transitions exactly once per
// (admission, tier, epoch), regardless of whether the event path or the
// aging sweeper noticed the change first. Safe for concurrent use.
type Dispatcher struct {
	mu      sync.Mutex
	sent    map[string]sentState
	history []Alert

	pubs []Publisher
	m    *metrics.Metrics
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Dispatcher that fans out to the given publishers.
func New(m *metrics.Metrics, pubs ...Publisher) *Dispatcher {
	return &Dispatcher{
		sent: make(map[string]sentState),
		pubs: pubs,
		m:    m,
		now:  time.Now,
	}
}

// OnTransition publishes the alerts for a tier change of adm, expanding
// upward jumps through intermediate tiers. Redundant notifications — the
// sweeper and an event racing to report the same change — are suppressed by
// the per-admission state.
func (d *Dispatcher) OnTransition(adm domain.Admission, from, to domain.Tier, elapsed time.Duration) {
	at := d.now()

	d.mu.Lock()
	rec, ok := d.sent[adm.AdmissionID]
	if !ok {
		rec = sentState{lastTier: domain.TierNormal}
	}
	if to == rec.lastTier {
		d.mu.Unlock()
		return
	}

	// Steps are computed from the dispatcher's own recorded tier, not the
	// caller's: if two paths race, the second starts from the tier the
	// first already alerted on and finds nothing left to emit.
	steps := domain.Steps(rec.lastTier, to)
	if to == domain.TierNormal {
		rec.epoch++
	}
	rec.lastTier = to
	d.sent[adm.AdmissionID] = rec

	alerts := make([]Alert, 0, len(steps))
	for _, step := range steps {
		alerts = append(alerts, newAlert(adm, step, elapsed, at, rec.epoch))
	}
	d.history = append(d.history, alerts...)
	if len(d.history) > maxHistoryLen {
		d.history = d.history[len(d.history)-maxHistoryLen:]
	}

	// Publish before releasing the lock: a racing reporter for the same
	// admission cannot deliver a later step ahead of an earlier one.
	// Publishers must not block (the hub enqueues, webhooks deliver async).
	for _, a := range alerts {
		slog.Info("dispatch: alert",
			"type", a.Type,
			"admission_id", a.AdmissionID,
			"from", a.FromTier,
			"to", a.ToTier,
			"hours", a.ElapsedHours,
		)
		d.m.AlertsTotal.WithLabelValues(a.ToTier).Inc()
		for _, p := range d.pubs {
			p.PublishAlert(a)
		}
	}
	d.mu.Unlock()
}

// OnClosed forgets the transition state for a closed admission.
func (d *Dispatcher) OnClosed(admissionID string) {
	d.mu.Lock()
	delete(d.sent, admissionID)
	d.mu.Unlock()
}

// Recent returns a copy of the recent-alert history, newest last.
func (d *Dispatcher) Recent() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.history))
	copy(out, d.history)
	return out
}
