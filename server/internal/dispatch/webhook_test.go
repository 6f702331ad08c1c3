package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/config"
)

func waitBody(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("webhook delivery: timed out waiting for request")
		return nil
	}
}

func TestWebhooks_HTTPDelivery(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
	}))
	t.Cleanup(srv.Close)
	t.Setenv("TEST_WEBHOOK_URL", srv.URL)

	wh := NewWebhooks([]config.WebhookConfig{{Type: "http", URLEnv: "TEST_WEBHOOK_URL"}}, testMetrics())
	wh.PublishAlert(Alert{ID: "x", Type: AlertNoTest, AdmissionID: "A12", ToTier: "warning"})

	var payload struct {
		Alert Alert `json:"alert"`
	}
	if err := json.Unmarshal(waitBody(t, bodies), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Alert.AdmissionID != "A12" {
		t.Errorf("AdmissionID: got %q, want A12", payload.Alert.AdmissionID)
	}
}

func TestWebhooks_SlackFormat(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
	}))
	t.Cleanup(srv.Close)
	t.Setenv("TEST_SLACK_URL", srv.URL)

	wh := NewWebhooks([]config.WebhookConfig{{Type: "slack", URLEnv: "TEST_SLACK_URL"}}, testMetrics())
	wh.PublishAlert(Alert{
		Type:    AlertNoTest,
		ToTier:  "critical",
		Ward:    "ICU",
		Message: "Patient P-1 has not had tests for 50.0 hours",
	})

	var payload map[string]string
	if err := json.Unmarshal(waitBody(t, bodies), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !strings.Contains(payload["text"], "[CRITICAL]") {
		t.Errorf("slack text missing tier label: %q", payload["text"])
	}
}

func TestWebhooks_UnresolvedURLSkipped(t *testing.T) {
	// URLEnv points at an unset variable; delivery must be a silent no-op.
	wh := NewWebhooks([]config.WebhookConfig{{Type: "http", URLEnv: "WEBHOOK_URL_NOT_SET"}}, testMetrics())
	wh.PublishAlert(Alert{AdmissionID: "A12"})
	time.Sleep(50 * time.Millisecond)
}

func TestWebhooks_NoTargets(t *testing.T) {
	wh := NewWebhooks(nil, testMetrics())
	wh.PublishAlert(Alert{AdmissionID: "A12"}) // must not panic
}
