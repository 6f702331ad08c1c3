package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

// Stats summarizes one sweep pass.
type Stats struct {
	Scanned     int
	Transitions int
	Skipped     int
	Reconciled  int
	Duration    time.Duration
}

// Sweeper re-derives staleness for all active admissions on a fixed
// interval.
type Sweeper struct {
	store      *store.Store
	index      *index.Index
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	m          *metrics.Metrics
	now        func() time.Time // injectable for deterministic tests
}

// New creates a Sweeper ticking at interval.
func New(st *store.Store, ix *index.Index, d *dispatch.Dispatcher, interval time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		store:      st,
		index:      ix,
		dispatcher: d,
		interval:   interval,
		m:          m,
		now:        time.Now,
	}
}

// Run sweeps until ctx is cancelled. A failed or partial sweep is retried
// in full at the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats := s.Sweep(s.now())
			slog.Debug("sweeper: pass complete",
				"scanned", stats.Scanned,
				"transitions", stats.Transitions,
				"skipped", stats.Skipped,
				"reconciled", stats.Reconciled,
				"duration", stats.Duration,
			)
		}
	}
}

// Sweep performs one full pass at the given instant. Admissions that close
// or vanish mid-pass are skipped; the index is reconciled against the store
// afterwards so the two structures cannot drift.
func (s *Sweeper) Sweep(now time.Time) Stats {
	start := time.Now()
	var stats Stats

	for _, id := range s.store.ActiveIDs() {
		res, err := s.store.Refresh(id, now)
		if err != nil {
			// Closed or removed since the id list was taken; the index
			// entry goes with it.
			if errors.Is(err, store.ErrUnknownAdmission) {
				s.index.Remove(id)
			} else {
				slog.Warn("sweeper: refresh failed — skipping admission",
					"admission_id", id, "err", err)
			}
			stats.Skipped++
			continue
		}

		stats.Scanned++
		s.index.Upsert(id, res.ToTier, res.Elapsed)
		if res.TierChanged {
			stats.Transitions++
			s.m.SweepTransitions.Inc()
			s.dispatcher.OnTransition(res.Admission, res.FromTier, res.ToTier, res.Elapsed)
		}
	}

	// The store is authoritative; drop index entries it no longer backs.
	active := make(map[string]struct{})
	for _, id := range s.store.ActiveIDs() {
		active[id] = struct{}{}
	}
	stats.Reconciled = s.index.Reconcile(active)
	if stats.Reconciled > 0 {
		slog.Warn("sweeper: index entries reconciled away", "count", stats.Reconciled)
	}

	counts := s.index.CountByTier()
	for _, tier := range []domain.Tier{domain.TierNormal, domain.TierWarning, domain.TierCritical} {
		s.m.ActiveAdmissions.WithLabelValues(tier.String()).Set(float64(counts[tier]))
	}

	stats.Duration = time.Since(start)
	s.m.SweepDuration.Observe(stats.Duration.Seconds())
	return stats
}
