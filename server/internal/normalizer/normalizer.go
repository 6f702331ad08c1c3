package normalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

// janitorInterval is how often parked orphan events are checked for expiry.
const janitorInterval = time.Second

type pendingEvent struct {
	ev       domain.Event
	deadline time.Time
}

// Normalizer applies feed events to the store and propagates every accepted
// change to the staleness index and the alert dispatcher. Safe for
// concurrent use; per-admission ordering is enforced by the store's shard
// locks, and the orphan buffer has its own lock.
type Normalizer struct {
	store      *store.Store
	index      *index.Index
	dispatcher *dispatch.Dispatcher
	dead       *DeadLetterLog

	orphanTimeout time.Duration
	m             *metrics.Metrics
	now           func() time.Time // injectable for deterministic tests

	mu      sync.Mutex
	pending map[string][]pendingEvent
}

// New creates a Normalizer wired to the store, index and dispatcher.
func New(st *store.Store, ix *index.Index, d *dispatch.Dispatcher, dl *DeadLetterLog, orphanTimeout time.Duration, m *metrics.Metrics) *Normalizer {
	return &Normalizer{
		store:         st,
		index:         ix,
		dispatcher:    d,
		dead:          dl,
		orphanTimeout: orphanTimeout,
		m:             m,
		now:           time.Now,
		pending:       make(map[string][]pendingEvent),
	}
}

// Submit processes one event. Structurally invalid events are dead-lettered
// and reported back to the caller; everything else is either applied or
// parked for the orphan window, and Submit returns nil.
func (n *Normalizer) Submit(ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "invalid").Inc()
		n.m.DeadLettersTotal.WithLabelValues(ReasonInvalidEvent).Inc()
		n.dead.Append(ev, ReasonInvalidEvent, n.now())
		return fmt.Errorf("invalid event: %w", err)
	}
	n.process(ev, true)
	return nil
}

// process applies ev, optionally parking it when the admission is unknown.
func (n *Normalizer) process(ev domain.Event, mayPark bool) {
	change, err := n.store.Apply(ev)
	switch {
	case err == nil:
		n.applied(ev, change)

	case errors.Is(err, store.ErrAdmissionClosed):
		// Late events for a closed episode are rejected, never replayed.
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "rejected").Inc()
		n.m.DeadLettersTotal.WithLabelValues(ReasonClosedAdmission).Inc()
		n.dead.Append(ev, ReasonClosedAdmission, n.now())
		slog.Warn("normalizer: event for closed admission dead-lettered",
			"type", ev.Type,
			"admission_id", ev.AdmissionID,
			"source", ev.Source,
		)

	case errors.Is(err, store.ErrUnknownAdmission):
		if mayPark {
			n.park(ev)
			return
		}
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "rejected").Inc()
		n.m.DeadLettersTotal.WithLabelValues(ReasonOrphanTimeout).Inc()
		n.dead.Append(ev, ReasonOrphanTimeout, n.now())

	default:
		slog.Error("normalizer: apply failed",
			"type", ev.Type,
			"admission_id", ev.AdmissionID,
			"err", err,
		)
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
	}
}

// applied propagates a successful store change to the index and dispatcher.
func (n *Normalizer) applied(ev domain.Event, change store.StateChange) {
	adm := change.Admission

	switch change.Kind {
	case store.ChangeOpened:
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "applied").Inc()
		n.index.Upsert(adm.AdmissionID, change.ToTier, change.Elapsed)
		// Backfilled openings can start beyond the warning threshold.
		if change.ToTier != domain.TierNormal {
			n.dispatcher.OnTransition(adm, change.FromTier, change.ToTier, change.Elapsed)
		}
		n.flush(adm.AdmissionID)

	case store.ChangeDuplicateOpen:
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "duplicate").Inc()
		slog.Debug("normalizer: duplicate admission_opened ignored",
			"admission_id", adm.AdmissionID,
			"source", ev.Source,
		)

	case store.ChangeClosed:
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "applied").Inc()
		n.index.Remove(adm.AdmissionID)
		n.dispatcher.OnClosed(adm.AdmissionID)

	case store.ChangeTestRecorded:
		n.m.EventsTotal.WithLabelValues(string(ev.Type), "applied").Inc()
		n.index.Upsert(adm.AdmissionID, change.ToTier, change.Elapsed)
		if change.TierChanged {
			n.dispatcher.OnTransition(adm, change.FromTier, change.ToTier, change.Elapsed)
		}
	}
}

// park buffers an event whose admission has not been seen yet.
func (n *Normalizer) park(ev domain.Event) {
	deadline := n.now().Add(n.orphanTimeout)
	n.mu.Lock()
	n.pending[ev.AdmissionID] = append(n.pending[ev.AdmissionID], pendingEvent{ev: ev, deadline: deadline})
	total := n.pendingCountLocked()
	n.mu.Unlock()

	n.m.EventsTotal.WithLabelValues(string(ev.Type), "parked").Inc()
	n.m.OrphansPending.Set(float64(total))
	slog.Debug("normalizer: event parked awaiting admission",
		"type", ev.Type,
		"admission_id", ev.AdmissionID,
		"deadline", deadline,
	)
}

// flush re-applies events parked for an admission that just appeared.
// Monotonic-max in the store makes replay order irrelevant.
func (n *Normalizer) flush(admissionID string) {
	n.mu.Lock()
	parked := n.pending[admissionID]
	delete(n.pending, admissionID)
	total := n.pendingCountLocked()
	n.mu.Unlock()

	n.m.OrphansPending.Set(float64(total))
	for _, p := range parked {
		n.process(p.ev, false)
	}
}

// Run drives orphan expiry until ctx is cancelled.
func (n *Normalizer) Run(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if expired := n.Expire(now); expired > 0 {
				slog.Warn("normalizer: orphan events dead-lettered", "count", expired)
			}
		}
	}
}

// Expire dead-letters parked events whose orphan window has elapsed,
// returning how many were expired.
func (n *Normalizer) Expire(now time.Time) int {
	n.mu.Lock()
	var expired []domain.Event
	for id, events := range n.pending {
		var keep []pendingEvent
		for _, p := range events {
			if p.deadline.After(now) {
				keep = append(keep, p)
			} else {
				expired = append(expired, p.ev)
			}
		}
		if len(keep) == 0 {
			delete(n.pending, id)
		} else {
			n.pending[id] = keep
		}
	}
	total := n.pendingCountLocked()
	n.mu.Unlock()

	n.m.OrphansPending.Set(float64(total))
	for _, ev := range expired {
		n.m.DeadLettersTotal.WithLabelValues(ReasonOrphanTimeout).Inc()
		n.dead.Append(ev, ReasonOrphanTimeout, now)
	}
	return len(expired)
}

// PendingCount returns the number of currently parked events.
func (n *Normalizer) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pendingCountLocked()
}

func (n *Normalizer) pendingCountLocked() int {
	total := 0
	for _, events := range n.pending {
		total += len(events)
	}
	return total
}
