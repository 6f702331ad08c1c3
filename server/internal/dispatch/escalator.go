package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

const escalationBatchSize = 20

// Escalator periodically drains Critical admissions from the staleness index
// in claimed batches and posts escalation notices to the configured
// publishers. Claims are released on completion; if the worker dies
// mid-batch the index lease expires and the admissions become claimable
// again — nothing is ever lost, only delayed.
type Escalator struct {
	store    *store.Store
	index    *index.Index
	pubs     []Publisher
	interval time.Duration
	cooldown time.Duration
	m        *metrics.Metrics
	now      func() time.Time // injectable for deterministic tests

	mu       sync.Mutex
	notified map[string]time.Time // last escalation per admission
}

// NewEscalator creates an escalation worker. cooldown suppresses repeat
// escalations for the same admission.
func NewEscalator(st *store.Store, ix *index.Index, interval, cooldown time.Duration, m *metrics.Metrics, pubs ...Publisher) *Escalator {
	return &Escalator{
		store:    st,
		index:    ix,
		pubs:     pubs,
		interval: interval,
		cooldown: cooldown,
		m:        m,
		now:      time.Now,
		notified: make(map[string]time.Time),
	}
}

// Run ticks until ctx is cancelled.
func (e *Escalator) Run(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Tick()
		}
	}
}

// Tick claims and processes one batch of Critical admissions.
func (e *Escalator) Tick() {
	ids := e.index.ClaimBatch(domain.TierCritical, escalationBatchSize)
	if len(ids) == 0 {
		return
	}
	e.m.ClaimsTotal.Add(float64(len(ids)))
	now := e.now()

	for _, id := range ids {
		e.process(id, now)
		e.index.Release(id)
	}
	e.prune(now)
}

func (e *Escalator) process(id string, now time.Time) {
	adm, ok := e.store.Get(id)
	if !ok || adm.Status != domain.StatusActive {
		// Index lagging behind the store; the next sweep reconciles it.
		return
	}

	e.mu.Lock()
	last, seen := e.notified[id]
	if seen && now.Sub(last) < e.cooldown {
		e.mu.Unlock()
		return
	}
	e.notified[id] = now
	e.mu.Unlock()

	elapsed := adm.Elapsed(now)
	a := Alert{
		ID:           uuid.NewString(),
		Type:         AlertEscalation,
		PatientID:    adm.PatientID,
		AdmissionID:  adm.AdmissionID,
		Ward:         adm.Ward,
		BedNumber:    adm.BedNumber,
		FromTier:     domain.TierCritical.String(),
		ToTier:       domain.TierCritical.String(),
		ElapsedHours: elapsed.Hours(),
		LastTestAt:   adm.LastTestAt,
		Message:      escalationMessage(adm, elapsed),
		FiredAt:      now,
	}

	slog.Warn("dispatch: escalating critical admission",
		"admission_id", adm.AdmissionID,
		"ward", adm.Ward,
		"hours", a.ElapsedHours,
	)
	for _, p := range e.pubs {
		p.PublishAlert(a)
	}
}

// prune drops stale cooldown records so the map does not grow with churn.
func (e *Escalator) prune(now time.Time) {
	cutoff := now.Add(-4 * e.cooldown)
	e.mu.Lock()
	for id, at := range e.notified {
		if at.Before(cutoff) {
			delete(e.notified, id)
		}
	}
	e.mu.Unlock()
}

func escalationMessage(adm domain.Admission, elapsed time.Duration) string {
	return "Patient " + adm.PatientID + " still critical after " +
		elapsed.Truncate(time.Minute).String() + " without a qualifying test"
}
