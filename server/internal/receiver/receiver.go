package receiver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/normalizer"
)

// maxBodyBytes caps an ingestion request body (1 MiB).
const maxBodyBytes = 1 << 20

// EventResult reports the outcome for one submitted event.
type EventResult struct {
	EventID     string `json:"eventId,omitempty"`
	AdmissionID string `json:"admissionId,omitempty"`
	Status      string `json:"status"` // "accepted" | "rejected"
	Error       string `json:"error,omitempty"`
}

// Response is the envelope returned for every ingestion request.
type Response struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Results  []EventResult `json:"results"`
}

// Receiver handles POST /api/v1/events.
type Receiver struct {
	norm *normalizer.Normalizer
}

// New creates a Receiver that forwards accepted events to n.
func New(n *normalizer.Normalizer) *Receiver {
	return &Receiver{norm: n}
}

// ServeHTTP accepts a single event object or a JSON array of events.
// Structurally invalid events are rejected individually; the request as a
// whole succeeds as long as the body parses.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	events, err := decodeEvents(json.NewDecoder(body))
	if err != nil {
		httpErr(w, http.StatusBadRequest, "malformed event payload: "+err.Error())
		return
	}
	if len(events) == 0 {
		httpErr(w, http.StatusBadRequest, "empty event payload")
		return
	}

	resp := Response{Results: make([]EventResult, 0, len(events))}
	for _, ev := range events {
		res := EventResult{EventID: ev.EventID, AdmissionID: ev.AdmissionID, Status: "accepted"}
		if err := rc.norm.Submit(ev); err != nil {
			res.Status = "rejected"
			res.Error = err.Error()
			resp.Rejected++
		} else {
			resp.Accepted++
		}
		resp.Results = append(resp.Results, res)
	}

	slog.Debug("receiver: batch processed",
		"accepted", resp.Accepted,
		"rejected", resp.Rejected,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// decodeEvents reads either a single event object or an array of events.
func decodeEvents(dec *json.Decoder) ([]domain.Event, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	if len(raw) > 0 && raw[0] == '[' {
		var events []domain.Event
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

func httpErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
