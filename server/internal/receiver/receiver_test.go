package receiver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/normalizer"
	"github.com/wardwatch/wardwatch/server/internal/store"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

func newReceiver(t *testing.T) (*Receiver, *store.Store) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	st := store.New(domain.Thresholds{Warning: 36 * time.Hour, Critical: 48 * time.Hour})
	ix := index.New(5 * time.Minute)
	d := dispatch.New(m)
	dl := normalizer.NewDeadLetterLog(16)
	n := normalizer.New(st, ix, d, dl, 30*time.Second, m)
	return New(n), st
}

func post(t *testing.T, rc *Receiver, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, req)
	return rec
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServeHTTP_SingleEvent(t *testing.T) {
	rc, st := newReceiver(t)
	at := time.Now().UTC().Format(time.RFC3339)

	rec := post(t, rc, `{"type":"admission_opened","eventId":"e1","admissionId":"A12","patientId":"P1","ward":"ICU","occurredAt":"`+at+`","source":"his"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	resp := decodeResp(t, rec)
	if resp.Accepted != 1 || resp.Rejected != 0 {
		t.Errorf("counts: got %d/%d, want 1/0", resp.Accepted, resp.Rejected)
	}
	if _, ok := st.Get("A12"); !ok {
		t.Error("admission not created")
	}
}

func TestServeHTTP_Batch(t *testing.T) {
	rc, st := newReceiver(t)
	at := time.Now().UTC().Format(time.RFC3339)

	rec := post(t, rc, `[
		{"type":"admission_opened","admissionId":"A1","patientId":"P1","occurredAt":"`+at+`","source":"his"},
		{"type":"admission_opened","admissionId":"A2","patientId":"P2","occurredAt":"`+at+`","source":"his"},
		{"type":"lab_test","admissionId":"A1","occurredAt":"`+at+`","source":"lab"}
	]`)
	resp := decodeResp(t, rec)
	if resp.Accepted != 3 {
		t.Fatalf("accepted: got %d, want 3", resp.Accepted)
	}
	adm, _ := st.Get("A1")
	if adm.TestCount != 1 {
		t.Errorf("A1 TestCount: got %d, want 1", adm.TestCount)
	}
}

func TestServeHTTP_MixedValidity(t *testing.T) {
	rc, _ := newReceiver(t)
	at := time.Now().UTC().Format(time.RFC3339)

	// Second event has an unknown type; it is rejected individually while
	// the rest of the batch lands.
	rec := post(t, rc, `[
		{"type":"admission_opened","admissionId":"A1","patientId":"P1","occurredAt":"`+at+`","source":"his"},
		{"type":"transfer","admissionId":"A1","occurredAt":"`+at+`","source":"his"}
	]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	resp := decodeResp(t, rec)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("counts: got %d/%d, want 1/1", resp.Accepted, resp.Rejected)
	}
	if resp.Results[1].Status != "rejected" || resp.Results[1].Error == "" {
		t.Errorf("results[1]: got %+v, want rejected with reason", resp.Results[1])
	}
}

func TestServeHTTP_MalformedBody(t *testing.T) {
	rc, _ := newReceiver(t)
	rec := post(t, rc, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestServeHTTP_EmptyArray(t *testing.T) {
	rc, _ := newReceiver(t)
	rec := post(t, rc, `[]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	rc, _ := newReceiver(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}
