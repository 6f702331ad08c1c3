package api

import (
	"sort"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

// PatientSummary is the JSON representation of one monitored admission.
type PatientSummary struct {
	PatientID      string  `json:"patientId"`
	AdmissionID    string  `json:"admissionId"`
	Ward           string  `json:"ward"`
	BedNumber      string  `json:"bedNumber"`
	Status         string  `json:"status"`
	AdmissionDate  string  `json:"admissionDate"`
	LastTestDate   *string `json:"lastTestDate"`
	HoursSinceTest float64 `json:"hoursSinceTest"`
	Tier           string  `json:"tier"`
}

// ListFilter narrows and pages the patient list.
type ListFilter struct {
	Ward     string
	MinTier  domain.Tier
	MinHours float64 // only admissions at least this stale, 0 = no floor
	Limit    int
	Offset   int
}

// ListResponse is the envelope for GET /api/v1/patients.
type ListResponse struct {
	Patients    []PatientSummary `json:"patients"`
	TotalCount  int              `json:"totalCount"`
	Message     string           `json:"message,omitempty"`
	GeneratedAt string           `json:"generatedAt"`
}

// HealthResponse is the envelope for GET /api/v1/health.
type HealthResponse struct {
	ActiveCount   int    `json:"activeCount"`
	NormalCount   int    `json:"normalCount"`
	WarningCount  int    `json:"warningCount"`
	CriticalCount int    `json:"criticalCount"`
	DeadLetters   int    `json:"deadLetters"`
	State         string `json:"state"`
	GeneratedAt   string `json:"generatedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// toSummary maps an admission to its JSON representation at the given
// instant.
func toSummary(adm domain.Admission, now time.Time, th domain.Thresholds) PatientSummary {
	elapsed := adm.Elapsed(now)
	if elapsed < 0 {
		elapsed = 0
	}
	s := PatientSummary{
		PatientID:      adm.PatientID,
		AdmissionID:    adm.AdmissionID,
		Ward:           adm.Ward,
		BedNumber:      adm.BedNumber,
		Status:         string(adm.Status),
		AdmissionDate:  adm.OpenedAt.UTC().Format(time.RFC3339),
		HoursSinceTest: elapsed.Hours(),
		Tier:           domain.TierFor(elapsed, th).String(),
	}
	if adm.LastTestAt != nil {
		d := adm.LastTestAt.UTC().Format(time.RFC3339)
		s.LastTestDate = &d
	}
	return s
}

// BuildOverdue assembles the filtered, ordered patient list at the given
// instant: tier descending, then hours-since-test descending, admission id
// ascending as the deterministic tie-break. Shared by the REST list handler
// and the WebSocket connect snapshot.
func BuildOverdue(st *store.Store, now time.Time, f ListFilter) []PatientSummary {
	th := st.Thresholds()
	admissions := st.Snapshot(store.SnapshotFilter{Ward: f.Ward})

	out := make([]PatientSummary, 0, len(admissions))
	for _, adm := range admissions {
		sum := toSummary(adm, now, th)
		if domain.ParseTier(sum.Tier) < f.MinTier {
			continue
		}
		if f.MinHours > 0 && sum.HoursSinceTest < f.MinHours {
			continue
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := domain.ParseTier(out[i].Tier), domain.ParseTier(out[j].Tier)
		if ti != tj {
			return ti > tj
		}
		if out[i].HoursSinceTest != out[j].HoursSinceTest {
			return out[i].HoursSinceTest > out[j].HoursSinceTest
		}
		return out[i].AdmissionID < out[j].AdmissionID
	})
	return out
}

// page applies offset/limit to a built list.
func page(list []PatientSummary, offset, limit int) []PatientSummary {
	if offset >= len(list) {
		return []PatientSummary{}
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
