package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/config"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// Webhooks delivers alerts to configured external targets. It implements
// Publisher; delivery runs asynchronously and failures are logged, never
// propagated to the dispatcher.
type Webhooks struct {
	targets []config.WebhookConfig
	client  *http.Client
	m       *metrics.Metrics
}

// NewWebhooks creates a webhook sender for the configured targets.
func NewWebhooks(targets []config.WebhookConfig, m *metrics.Metrics) *Webhooks {
	return &Webhooks{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		m:       m,
	}
}

// PublishAlert delivers a to all targets in the background.
func (w *Webhooks) PublishAlert(a Alert) {
	if len(w.targets) == 0 {
		return
	}
	go w.deliver(a)
}

func (w *Webhooks) deliver(a Alert) {
	for _, wh := range w.targets {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = w.sendSlack(url, a)
		case "teams":
			err = w.sendTeams(url, a)
		case "pagerduty", "http":
			err = w.sendHTTP(url, a)
		default:
			slog.Warn("dispatch: unknown webhook type — skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			w.m.WebhookDeliveries.WithLabelValues(wh.Type, "error").Inc()
			slog.Error("dispatch: webhook delivery failed",
				"type", wh.Type,
				"admission_id", a.AdmissionID,
				"err", err,
			)
		} else {
			w.m.WebhookDeliveries.WithLabelValues(wh.Type, "ok").Inc()
			slog.Debug("dispatch: webhook delivered",
				"type", wh.Type,
				"admission_id", a.AdmissionID,
				"alert_type", a.Type,
			)
		}
	}
}

func (w *Webhooks) sendSlack(url string, a Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s (ward %s, bed %s)", tierLabel(a.ToTier), a.Message, a.Ward, a.BedNumber),
	})
	return w.post(url, body)
}

func (w *Webhooks) sendTeams(url string, a Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": tierColor(a.ToTier),
		"summary":    a.Message,
		"title":      fmt.Sprintf("WardWatch Alert: patient %s", a.PatientID),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return w.post(url, body)
}

func (w *Webhooks) sendHTTP(url string, a Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return w.post(url, body)
}

func (w *Webhooks) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func tierLabel(tier string) string {
	switch tier {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[OK]"
	}
}

func tierColor(tier string) string {
	switch tier {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "2ECC71"
	}
}
