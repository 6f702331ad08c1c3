package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

// Alert type tags on the wire.
const (
	AlertNoTest     = "noTest"
	AlertRecovered  = "recovered"
	AlertEscalation = "escalation"
)

// Alert is the payload published to subscribers and webhook targets.
type Alert struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	PatientID    string     `json:"patientId"`
	AdmissionID  string     `json:"admissionId"`
	Ward         string     `json:"ward"`
	BedNumber    string     `json:"bedNumber"`
	FromTier     string     `json:"fromTier"`
	ToTier       string     `json:"toTier"`
	ElapsedHours float64    `json:"hoursSinceTest"`
	LastTestAt   *time.Time `json:"lastTestDate,omitempty"`
	Message      string     `json:"message"`
	FiredAt      time.Time  `json:"firedAt"`
	Epoch        int        `json:"epoch"`
}

// newAlert builds the alert for one tier step of an admission.
func newAlert(adm domain.Admission, step domain.TierStep, elapsed time.Duration, at time.Time, epoch int) Alert {
	hours := elapsed.Hours()
	a := Alert{
		ID:           uuid.NewString(),
		PatientID:    adm.PatientID,
		AdmissionID:  adm.AdmissionID,
		Ward:         adm.Ward,
		BedNumber:    adm.BedNumber,
		FromTier:     step.From.String(),
		ToTier:       step.To.String(),
		ElapsedHours: hours,
		LastTestAt:   adm.LastTestAt,
		FiredAt:      at,
		Epoch:        epoch,
	}
	if step.To == domain.TierNormal {
		a.Type = AlertRecovered
		a.Message = fmt.Sprintf("Patient %s received a qualifying test; staleness reset", adm.PatientID)
	} else {
		a.Type = AlertNoTest
		a.Message = fmt.Sprintf("Patient %s has not had tests for %.1f hours", adm.PatientID, hours)
	}
	return a
}
