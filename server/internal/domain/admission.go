package domain

import "time"

// AdmissionStatus is the lifecycle state of a hospitalization episode.
type AdmissionStatus string

const (
	StatusActive AdmissionStatus = "Active"
	StatusClosed AdmissionStatus = "Closed"
)

// Admission is one hospitalization episode for a patient — the unit being
// monitored. LastTestAt is nil until a qualifying lab test is recorded;
// monotonic-max semantics guarantee it never moves backward. LastTier is the
// derived cache of the most recently computed tier, updated atomically with
// transition detection so racing update paths cannot double-alert.
type Admission struct {
	PatientID   string
	AdmissionID string
	Ward        string
	BedNumber   string
	Status      AdmissionStatus
	OpenedAt    time.Time
	ClosedAt    time.Time // zero until Status == StatusClosed
	LastTestAt  *time.Time
	LastTier    Tier
	TestCount   int
	UpdatedAt   time.Time
}

// Elapsed returns the staleness of the admission at the given instant:
// time since the last qualifying test, or time since admission when the
// patient has never been tested.
func (a *Admission) Elapsed(now time.Time) time.Duration {
	if a.LastTestAt != nil {
		return now.Sub(*a.LastTestAt)
	}
	return now.Sub(a.OpenedAt)
}

// TierAt derives the tier at the given instant. Never negative staleness:
// events timestamped in the future clamp to zero elapsed.
func (a *Admission) TierAt(now time.Time, th Thresholds) Tier {
	elapsed := a.Elapsed(now)
	if elapsed < 0 {
		elapsed = 0
	}
	return TierFor(elapsed, th)
}
