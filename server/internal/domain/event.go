package domain

import (
	"fmt"
	"time"
)

// EventType tags the closed set of normalized feed events the engine accepts.
type EventType string

const (
	EventAdmissionOpened EventType = "admission_opened"
	EventAdmissionClosed EventType = "admission_closed"
	EventLabTest         EventType = "lab_test"
)

// Event is one normalized record from an upstream feed. CSV parsing and
// field validation happen upstream; by the time an Event reaches the engine
// it is a tagged variant with typed fields. OccurredAt is the feed's own
// event timestamp — feeds are independently clocked, so arrival order is
// never trusted, only OccurredAt.
type Event struct {
	Type        EventType `json:"type"`
	EventID     string    `json:"eventId"`
	AdmissionID string    `json:"admissionId"`
	PatientID   string    `json:"patientId,omitempty"`
	Ward        string    `json:"ward,omitempty"`
	BedNumber   string    `json:"bedNumber,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
	Source      string    `json:"source"`
}

// Validate checks the structural requirements common to all event types.
func (e Event) Validate() error {
	switch e.Type {
	case EventAdmissionOpened, EventAdmissionClosed, EventLabTest:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.AdmissionID == "" {
		return fmt.Errorf("%s event is missing admissionId", e.Type)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%s event for %s is missing occurredAt", e.Type, e.AdmissionID)
	}
	if e.Type == EventAdmissionOpened && e.PatientID == "" {
		return fmt.Errorf("admission_opened event for %s is missing patientId", e.AdmissionID)
	}
	return nil
}
