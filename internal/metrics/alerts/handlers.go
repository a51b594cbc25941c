package alerts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/metrics"
)

const (
	webhookTimeout  = 5 * time.Second
	webhookAttempts = 3
)

// LogHandler writes created alerts to the service log with structured fields.
type LogHandler struct{}

func (h *LogHandler) HandleAlert(alert metrics.Alert) error {
	log.WithFields(log.Fields{
		"alertId":  alert.Id,
		"severity": alert.Severity,
		"metric":   alert.MetricName,
		"value":    alert.CurrentValue,
	}).Warn(alert.Message)
	return nil
}

// WebhookHandler posts created alerts as JSON to a configured endpoint.
// Delivery is retried a few times, a final failure is returned to the
// engine which logs and swallows it.
type WebhookHandler struct {
	url    string
	client *http.Client
}

func NewWebhookHandler(url string) *WebhookHandler {
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (h *WebhookHandler) HandleAlert(alert metrics.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.WithStack(err)
	}
	return retry.Do(
		func() error {
			response, err := h.client.Post(h.url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return errors.WithStack(err)
			}
			defer response.Body.Close()
			if response.StatusCode >= 300 {
				return errors.Errorf("webhook %s returned status %d", h.url, response.StatusCode)
			}
			return nil
		},
		retry.Attempts(webhookAttempts),
	)
}
