package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func testMetrics() *metrics.Metrics { return metrics.New(prometheus.NewRegistry()) }

// capture collects published alerts; safe for concurrent use.
type capture struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *capture) PublishAlert(a Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
}

func (c *capture) all() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func admission(id string) domain.Admission {
	return domain.Admission{
		PatientID:   "P-" + id,
		AdmissionID: id,
		Ward:        "ICU",
		BedNumber:   "4",
		Status:      domain.StatusActive,
		OpenedAt:    t0,
	}
}

func TestOnTransition_SingleStep(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(37 * time.Hour))

	d.OnTransition(admission("A12"), domain.TierNormal, domain.TierWarning, 37*time.Hour)

	got := c.all()
	if len(got) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(got))
	}
	a := got[0]
	if a.Type != AlertNoTest {
		t.Errorf("Type: got %q, want %q", a.Type, AlertNoTest)
	}
	if a.FromTier != "normal" || a.ToTier != "warning" {
		t.Errorf("transition: got %s→%s, want normal→warning", a.FromTier, a.ToTier)
	}
	if a.ElapsedHours != 37 {
		t.Errorf("ElapsedHours: got %v, want 37", a.ElapsedHours)
	}
	if a.Message != "Patient P-A12 has not had tests for 37.0 hours" {
		t.Errorf("Message: got %q", a.Message)
	}
}

func TestOnTransition_JumpExpandsThroughWarning(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(50 * time.Hour))

	// First observation at +50h: the admission skipped straight past warning.
	d.OnTransition(admission("A12"), domain.TierNormal, domain.TierCritical, 50*time.Hour)

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("alerts: got %d, want 2", len(got))
	}
	if got[0].ToTier != "warning" || got[1].ToTier != "critical" {
		t.Errorf("expansion: got [%s %s], want [warning critical]", got[0].ToTier, got[1].ToTier)
	}
}

func TestOnTransition_DuplicateSuppressed(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(37 * time.Hour))

	adm := admission("A12")
	// Event path and sweeper both report the same change.
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)

	if got := len(c.all()); got != 1 {
		t.Errorf("alerts after duplicate report: got %d, want 1", got)
	}
}

func TestOnTransition_RaceStartsFromRecordedTier(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(50 * time.Hour))

	adm := admission("A12")
	// The sweeper already alerted normal→warning; a racing caller then
	// reports normal→critical. Only the warning→critical step is left.
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
	d.OnTransition(adm, domain.TierNormal, domain.TierCritical, 50*time.Hour)

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("alerts: got %d, want 2", len(got))
	}
	if got[1].FromTier != "warning" || got[1].ToTier != "critical" {
		t.Errorf("second alert: got %s→%s, want warning→critical", got[1].FromTier, got[1].ToTier)
	}
}

func TestOnTransition_EpochSeparatesEpisodes(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(40 * time.Hour))

	adm := admission("A12")
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
	d.OnTransition(adm, domain.TierWarning, domain.TierNormal, time.Hour) // test arrived
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)

	got := c.all()
	if len(got) != 3 {
		t.Fatalf("alerts: got %d, want 3 (warn, recover, warn again)", len(got))
	}
	if got[1].Type != AlertRecovered {
		t.Errorf("middle alert type: got %q, want %q", got[1].Type, AlertRecovered)
	}
	if got[0].Epoch == got[2].Epoch {
		t.Errorf("re-entry epoch: got %d twice, want distinct epochs", got[0].Epoch)
	}
}

func TestOnTransition_DowncollapseEmitsSingleRecovery(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(50 * time.Hour))

	adm := admission("A12")
	d.OnTransition(adm, domain.TierNormal, domain.TierCritical, 50*time.Hour)
	d.OnTransition(adm, domain.TierCritical, domain.TierNormal, time.Hour)

	got := c.all()
	if len(got) != 3 {
		t.Fatalf("alerts: got %d, want 3", len(got))
	}
	last := got[2]
	if last.Type != AlertRecovered || last.ToTier != "normal" {
		t.Errorf("recovery alert: got type=%q to=%q", last.Type, last.ToTier)
	}
}

func TestOnClosed_ForgetsState(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(40 * time.Hour))

	adm := admission("A12")
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
	d.OnClosed("A12")

	// A fresh episode under the same id starts from normal again.
	d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
	if got := len(c.all()); got != 2 {
		t.Errorf("alerts after close and re-report: got %d, want 2", got)
	}
}

func TestOnTransition_ConcurrentReportersEmitOnce(t *testing.T) {
	c := &capture{}
	d := New(testMetrics(), c)
	d.now = fixedClock(t0.Add(37 * time.Hour))

	adm := admission("A12")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
		}()
	}
	wg.Wait()

	if got := len(c.all()); got != 1 {
		t.Errorf("alerts from 20 concurrent reporters: got %d, want exactly 1", got)
	}
}

// Racing reporters must never deliver a later step ahead of an earlier one:
// whatever the interleaving, subscribers see warning before critical.
func TestOnTransition_RacingReportersDeliverStepsInOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := &capture{}
		d := New(testMetrics(), c)
		d.now = fixedClock(t0.Add(50 * time.Hour))
		adm := admission("A12")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.OnTransition(adm, domain.TierNormal, domain.TierWarning, 37*time.Hour)
		}()
		go func() {
			defer wg.Done()
			d.OnTransition(adm, domain.TierNormal, domain.TierCritical, 50*time.Hour)
		}()
		wg.Wait()

		warnAt, critAt := -1, -1
		for idx, a := range c.all() {
			if a.Type != AlertNoTest {
				continue
			}
			switch a.ToTier {
			case "warning":
				if warnAt == -1 {
					warnAt = idx
				}
			case "critical":
				if critAt == -1 {
					critAt = idx
				}
			}
		}
		if critAt != -1 && (warnAt == -1 || warnAt > critAt) {
			t.Fatalf("critical delivered before warning (warning at %d, critical at %d)", warnAt, critAt)
		}
	}
}

func TestRecent_ReturnsHistory(t *testing.T) {
	d := New(testMetrics())
	d.now = fixedClock(t0.Add(50 * time.Hour))

	d.OnTransition(admission("A12"), domain.TierNormal, domain.TierCritical, 50*time.Hour)

	recent := d.Recent()
	if len(recent) != 2 {
		t.Fatalf("Recent: got %d, want 2", len(recent))
	}
	if recent[0].ToTier != "warning" || recent[1].ToTier != "critical" {
		t.Errorf("Recent order: got [%s %s], want oldest first", recent[0].ToTier, recent[1].ToTier)
	}
}
