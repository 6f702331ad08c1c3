package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

const shardCount = 16

// Sentinel reasons for rejected events.
var (
	// ErrUnknownAdmission is returned for events referencing an admission
	// the store has never seen.
	ErrUnknownAdmission = errors.New("unknown admission")

	// ErrAdmissionClosed is returned for events referencing an admission
	// that has already been closed. It matches errors.Is(err,
	// ErrUnknownAdmission) so callers that only distinguish known/unknown
	// can treat both the same way.
	ErrAdmissionClosed = fmt.Errorf("%w: already closed", ErrUnknownAdmission)
)

// ChangeKind says what an applied event did to the store.
type ChangeKind int

const (
	ChangeOpened ChangeKind = iota
	ChangeDuplicateOpen
	ChangeClosed
	ChangeTestRecorded
)

// StateChange describes the outcome of applying one event. Admission is a
// copy taken under the shard lock — callers own it and never see torn state.
type StateChange struct {
	Kind        ChangeKind
	Admission   domain.Admission
	FromTier    domain.Tier
	ToTier      domain.Tier
	TierChanged bool
	// Elapsed is the staleness at apply time, used to keep the index current.
	Elapsed time.Duration
}

// RefreshResult describes one sweeper re-derivation of an admission.
type RefreshResult struct {
	Admission   domain.Admission
	FromTier    domain.Tier
	ToTier      domain.Tier
	TierChanged bool
	Elapsed     time.Duration
}

// SnapshotFilter narrows Snapshot results. Zero value means "all active".
type SnapshotFilter struct {
	Ward          string // case-insensitive ward match, empty = any
	IncludeClosed bool
}

type shard struct {
	mu   sync.Mutex
	data map[string]*domain.Admission
}

// Store holds all monitored admissions. Safe for concurrent use.
type Store struct {
	shards [shardCount]shard

	thMu sync.RWMutex
	th   domain.Thresholds

	now func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given tier thresholds.
func New(th domain.Thresholds) *Store {
	s := &Store{th: th, now: time.Now}
	for i := range s.shards {
		s.shards[i].data = make(map[string]*domain.Admission)
	}
	return s
}

// SetThresholds swaps the tier thresholds at runtime (config hot reload).
// Tiers are re-derived against the new thresholds on the next sweep.
func (s *Store) SetThresholds(th domain.Thresholds) {
	s.thMu.Lock()
	s.th = th
	s.thMu.Unlock()
}

// Thresholds returns the current tier thresholds.
func (s *Store) Thresholds() domain.Thresholds {
	s.thMu.RLock()
	defer s.thMu.RUnlock()
	return s.th
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck
	return &s.shards[h.Sum32()%shardCount]
}

// Apply applies one normalized event under the admission's shard lock.
// Duplicate admission_opened events are an idempotent no-op (upstream feeds
// resend); lab tests use monotonic-max so out-of-order delivery can never
// move LastTestAt backward.
func (s *Store) Apply(ev domain.Event) (StateChange, error) {
	th := s.Thresholds()
	now := s.now()

	sh := s.shardFor(ev.AdmissionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	adm, exists := sh.data[ev.AdmissionID]

	switch ev.Type {
	case domain.EventAdmissionOpened:
		if exists && adm.Status == domain.StatusActive {
			return StateChange{Kind: ChangeDuplicateOpen, Admission: *adm}, nil
		}
		// A re-open after closure starts a fresh episode under the same id;
		// the upstream assigns admission ids per episode.
		a := &domain.Admission{
			PatientID:   ev.PatientID,
			AdmissionID: ev.AdmissionID,
			Ward:        ev.Ward,
			BedNumber:   ev.BedNumber,
			Status:      domain.StatusActive,
			OpenedAt:    ev.OccurredAt,
			UpdatedAt:   now,
		}
		a.LastTier = a.TierAt(now, th)
		sh.data[ev.AdmissionID] = a
		return StateChange{
			Kind:      ChangeOpened,
			Admission: *a,
			FromTier:  domain.TierNormal,
			ToTier:    a.LastTier,
			Elapsed:   a.Elapsed(now),
		}, nil

	case domain.EventAdmissionClosed:
		if !exists {
			return StateChange{}, ErrUnknownAdmission
		}
		if adm.Status != domain.StatusActive {
			return StateChange{}, ErrAdmissionClosed
		}
		adm.Status = domain.StatusClosed
		adm.ClosedAt = ev.OccurredAt
		adm.UpdatedAt = now
		return StateChange{Kind: ChangeClosed, Admission: *adm}, nil

	case domain.EventLabTest:
		if !exists {
			return StateChange{}, ErrUnknownAdmission
		}
		if adm.Status != domain.StatusActive {
			return StateChange{}, ErrAdmissionClosed
		}
		from := adm.LastTier
		if adm.LastTestAt == nil || ev.OccurredAt.After(*adm.LastTestAt) {
			t := ev.OccurredAt
			adm.LastTestAt = &t
		}
		adm.TestCount++
		adm.UpdatedAt = now
		to := adm.TierAt(now, th)
		adm.LastTier = to
		return StateChange{
			Kind:        ChangeTestRecorded,
			Admission:   *adm,
			FromTier:    from,
			ToTier:      to,
			TierChanged: to != from,
			Elapsed:     adm.Elapsed(now),
		}, nil

	default:
		return StateChange{}, fmt.Errorf("unsupported event type %q", ev.Type)
	}
}

// Refresh re-derives elapsed time and tier for one active admission at the
// given instant, updating the cached LastTier atomically. The sweeper calls
// this on every pass; passive aging flows through the same per-admission
// lock as event application.
func (s *Store) Refresh(id string, now time.Time) (RefreshResult, error) {
	th := s.Thresholds()

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	adm, ok := sh.data[id]
	if !ok {
		return RefreshResult{}, ErrUnknownAdmission
	}
	if adm.Status != domain.StatusActive {
		return RefreshResult{}, ErrAdmissionClosed
	}

	from := adm.LastTier
	to := adm.TierAt(now, th)
	adm.LastTier = to
	return RefreshResult{
		Admission:   *adm,
		FromTier:    from,
		ToTier:      to,
		TierChanged: to != from,
		Elapsed:     adm.Elapsed(now),
	}, nil
}

// Get returns a copy of the admission with the given id.
func (s *Store) Get(id string) (domain.Admission, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	adm, ok := sh.data[id]
	if !ok {
		return domain.Admission{}, false
	}
	return *adm, true
}

// Snapshot returns copies of admissions matching the filter, shard by shard.
// Each record is consistent (copied under its shard lock); the set as a
// whole is a stale-but-consistent view, which is all the read path needs.
func (s *Store) Snapshot(f SnapshotFilter) []domain.Admission {
	var out []domain.Admission
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, adm := range sh.data {
			if adm.Status != domain.StatusActive && !f.IncludeClosed {
				continue
			}
			if f.Ward != "" && !strings.EqualFold(f.Ward, adm.Ward) {
				continue
			}
			out = append(out, *adm)
		}
		sh.mu.Unlock()
	}
	return out
}

// ActiveIDs returns the ids of all active admissions, sorted for
// reproducible sweep order.
func (s *Store) ActiveIDs() []string {
	var ids []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, adm := range sh.data {
			if adm.Status == domain.StatusActive {
				ids = append(ids, id)
			}
		}
		sh.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of active admissions.
func (s *Store) ActiveCount() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, adm := range sh.data {
			if adm.Status == domain.StatusActive {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
