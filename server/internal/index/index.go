package index

import (
	"sort"
	"sync"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

// Entry is one admission's position in the staleness index.
type Entry struct {
	AdmissionID string
	Tier        domain.Tier
	Elapsed     time.Duration
}

type record struct {
	tier        domain.Tier
	elapsed     time.Duration
	leasedUntil time.Time // zero when unclaimed
}

// Index is the tiered staleness index over active admissions.
// Safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	entries map[string]*record
	lease   time.Duration
	now     func() time.Time // injectable for deterministic tests
}

// New creates an Index whose claims expire after lease.
func New(lease time.Duration) *Index {
	return &Index{
		entries: make(map[string]*record),
		lease:   lease,
		now:     time.Now,
	}
}

// Upsert inserts or refreshes the entry for an admission. Every active
// admission has exactly one entry; claims survive an upsert so a refresh
// during processing does not hand the admission to a second consumer.
func (ix *Index) Upsert(id string, tier domain.Tier, elapsed time.Duration) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if r, ok := ix.entries[id]; ok {
		r.tier = tier
		r.elapsed = elapsed
		return
	}
	ix.entries[id] = &record{tier: tier, elapsed: elapsed}
}

// Remove drops an admission from the index (closure or store disagreement).
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

// Len returns the number of indexed admissions.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// CountByTier returns the number of indexed admissions per tier.
func (ix *Index) CountByTier() map[domain.Tier]int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[domain.Tier]int, 3)
	for _, r := range ix.entries {
		out[r.tier]++
	}
	return out
}

// TopN returns up to n entries in the given tier, most overdue first.
// Equal elapsed times break ties by admission id ascending so output is
// deterministic and reproducible.
func (ix *Index) TopN(tier domain.Tier, n int) []Entry {
	return ix.collect(tier, n)
}

// AtOrAbove returns all entries whose tier is at least min, ordered by tier
// descending then most overdue first. Used to build subscriber snapshots.
func (ix *Index) AtOrAbove(min domain.Tier) []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []Entry
	for id, r := range ix.entries {
		if r.tier >= min {
			out = append(out, Entry{AdmissionID: id, Tier: r.tier, Elapsed: r.elapsed})
		}
	}
	sortEntries(out)
	return out
}

// ClaimBatch atomically claims up to n unclaimed entries in the given tier,
// most overdue first, and returns their admission ids. No two concurrent
// callers receive overlapping ids while the lease holds; entries whose lease
// expires without Release become claimable again.
func (ix *Index) ClaimBatch(tier domain.Tier, n int) []string {
	now := ix.now()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var candidates []Entry
	for id, r := range ix.entries {
		if r.tier != tier || r.leasedUntil.After(now) {
			continue
		}
		candidates = append(candidates, Entry{AdmissionID: id, Tier: r.tier, Elapsed: r.elapsed})
	}
	sortEntries(candidates)
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	ids := make([]string, 0, len(candidates))
	until := now.Add(ix.lease)
	for _, e := range candidates {
		ix.entries[e.AdmissionID].leasedUntil = until
		ids = append(ids, e.AdmissionID)
	}
	return ids
}

// Release returns a claimed entry to the index before its lease expires.
// Releasing an unclaimed or unknown id is a no-op.
func (ix *Index) Release(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if r, ok := ix.entries[id]; ok {
		r.leasedUntil = time.Time{}
	}
}

// Reconcile drops every entry whose admission id is not in active. The
// entity store is authoritative; any disagreement is corrected here on each
// sweep. Returns the number of entries removed.
func (ix *Index) Reconcile(active map[string]struct{}) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for id := range ix.entries {
		if _, ok := active[id]; !ok {
			delete(ix.entries, id)
			removed++
		}
	}
	return removed
}

func (ix *Index) collect(tier domain.Tier, n int) []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []Entry
	for id, r := range ix.entries {
		if r.tier != tier {
			continue
		}
		out = append(out, Entry{AdmissionID: id, Tier: r.tier, Elapsed: r.elapsed})
	}
	sortEntries(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// sortEntries orders by tier descending, elapsed descending, id ascending.
func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Tier != es[j].Tier {
			return es[i].Tier > es[j].Tier
		}
		if es[i].Elapsed != es[j].Elapsed {
			return es[i].Elapsed > es[j].Elapsed
		}
		return es[i].AdmissionID < es[j].AdmissionID
	})
}
