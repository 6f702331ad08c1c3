package dispatch

import (
	"testing"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

func criticalFixture(t *testing.T) (*store.Store, *index.Index) {
	t.Helper()
	st := store.New(domain.Thresholds{Warning: 36 * time.Hour, Critical: 48 * time.Hour})
	ix := index.New(5 * time.Minute)

	open := domain.Event{
		Type:        domain.EventAdmissionOpened,
		AdmissionID: "A12",
		PatientID:   "P-A12",
		Ward:        "ICU",
		OccurredAt:  t0,
		Source:      "his",
	}
	if _, err := st.Apply(open); err != nil {
		t.Fatalf("seed admission: %v", err)
	}
	ix.Upsert("A12", domain.TierCritical, 50*time.Hour)
	return st, ix
}

func TestEscalator_Tick(t *testing.T) {
	st, ix := criticalFixture(t)
	c := &capture{}
	esc := NewEscalator(st, ix, time.Minute, time.Hour, testMetrics(), c)
	esc.now = fixedClock(t0.Add(50 * time.Hour))

	esc.Tick()

	got := c.all()
	if len(got) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(got))
	}
	if got[0].Type != AlertEscalation {
		t.Errorf("Type: got %q, want %q", got[0].Type, AlertEscalation)
	}
	if got[0].AdmissionID != "A12" {
		t.Errorf("AdmissionID: got %q, want A12", got[0].AdmissionID)
	}
}

func TestEscalator_ReleasesClaim(t *testing.T) {
	st, ix := criticalFixture(t)
	esc := NewEscalator(st, ix, time.Minute, time.Hour, testMetrics(), &capture{})
	esc.now = fixedClock(t0.Add(50 * time.Hour))

	esc.Tick()

	// The claim was released; another consumer can take the entry.
	if ids := ix.ClaimBatch(domain.TierCritical, 10); len(ids) != 1 {
		t.Errorf("claim after tick: got %v, want [A12]", ids)
	}
}

func TestEscalator_CooldownSuppressesRepeat(t *testing.T) {
	st, ix := criticalFixture(t)
	c := &capture{}
	esc := NewEscalator(st, ix, time.Minute, time.Hour, testMetrics(), c)

	esc.now = fixedClock(t0.Add(50 * time.Hour))
	esc.Tick()
	esc.now = fixedClock(t0.Add(50*time.Hour + 30*time.Minute))
	esc.Tick()

	if got := len(c.all()); got != 1 {
		t.Errorf("alerts within cooldown: got %d, want 1", got)
	}

	// Past the cooldown the admission escalates again.
	esc.now = fixedClock(t0.Add(52 * time.Hour))
	esc.Tick()
	if got := len(c.all()); got != 2 {
		t.Errorf("alerts after cooldown: got %d, want 2", got)
	}
}

func TestEscalator_SkipsStoreDisagreement(t *testing.T) {
	st, ix := criticalFixture(t)
	// Index still carries an entry the store no longer backs.
	ix.Upsert("ghost", domain.TierCritical, 60*time.Hour)

	c := &capture{}
	esc := NewEscalator(st, ix, time.Minute, time.Hour, testMetrics(), c)
	esc.now = fixedClock(t0.Add(50 * time.Hour))

	esc.Tick()

	for _, a := range c.all() {
		if a.AdmissionID == "ghost" {
			t.Errorf("escalated an admission the store does not back")
		}
	}
}
