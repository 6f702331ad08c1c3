package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/normalizer"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

// Error codes surfaced in error envelopes.
const (
	codeInvalidParameters = "INVALID_PARAMETERS"
	codeNotFound          = "NOT_FOUND"
)

// msgNoPatients is returned when the filtered list is empty.
const msgNoPatients = "No patients need attention"

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	dead       *normalizer.DeadLetterLog
	mux        *http.ServeMux
	now        func() time.Time // injectable for deterministic tests
}

// New creates a Handler wired to the engine's read paths and registers all
// routes.
func New(st *store.Store, d *dispatch.Dispatcher, dl *normalizer.DeadLetterLog) *Handler {
	h := &Handler{
		store:      st,
		dispatcher: d,
		dead:       dl,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/patients", h.listPatients)
	h.mux.HandleFunc("/api/v1/patients/", h.getPatient) // subtree — extracts {admissionID}
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/deadletters", h.deadLetters)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — tier counts and overall state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	now := h.now()
	th := h.store.Thresholds()
	resp := HealthResponse{
		DeadLetters: h.dead.Len(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}

	for _, adm := range h.store.Snapshot(store.SnapshotFilter{}) {
		resp.ActiveCount++
		switch adm.TierAt(now, th) {
		case domain.TierCritical:
			resp.CriticalCount++
		case domain.TierWarning:
			resp.WarningCount++
		default:
			resp.NormalCount++
		}
	}

	switch {
	case resp.CriticalCount > 0:
		resp.State = "critical"
	case resp.WarningCount > 0:
		resp.State = "warning"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listPatients returns GET /api/v1/patients — the filtered, ordered list.
// Query parameters: ward, min_tier, hours, limit, offset.
func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	f, err := parseListFilter(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error(), codeInvalidParameters)
		return
	}

	now := h.now()
	list := BuildOverdue(h.store, now, f)
	total := len(list)
	list = page(list, f.Offset, f.Limit)

	resp := ListResponse{
		Patients:    list,
		TotalCount:  total,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	if total == 0 {
		resp.Message = msgNoPatients
	}
	jsonResp(w, http.StatusOK, resp)
}

// getPatient returns GET /api/v1/patients/{admissionID} — one admission,
// including closed ones (audit view).
func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/patients/")
	if id == "" {
		h.listPatients(w, r)
		return
	}

	adm, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "admission not found", codeNotFound)
		return
	}
	jsonResp(w, http.StatusOK, toSummary(adm, h.now(), h.store.Thresholds()))
}

// alerts returns GET /api/v1/alerts — the recent alert history, newest first.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	recent := h.dispatcher.Recent()
	// History is kept oldest-first; serve newest-first.
	out := make([]dispatch.Alert, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	jsonResp(w, http.StatusOK, out)
}

// deadLetters returns GET /api/v1/deadletters — events the engine could not
// apply, for operator inspection.
func (h *Handler) deadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	jsonResp(w, http.StatusOK, h.dead.Recent())
}

// --- helpers ----------------------------------------------------------------

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	f := ListFilter{
		Ward:    q.Get("ward"),
		MinTier: domain.ParseTier(q.Get("min_tier")),
	}

	if v := q.Get("hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours < 0 {
			return f, errInvalidParam("hours", v)
		}
		f.MinHours = hours
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, errInvalidParam("limit", v)
		}
		f.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return f, errInvalidParam("offset", v)
		}
		f.Offset = offset
	}
	return f, nil
}

type paramError struct{ name, value string }

func (e paramError) Error() string { return "invalid " + e.name + " parameter: " + e.value }

func errInvalidParam(name, value string) error { return paramError{name: name, value: value} }

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg, errCode string) {
	jsonResp(w, code, errorResponse{Error: msg, Code: errCode})
}
