package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/config"
	"github.com/exowatch/transit-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate    AlertType = "fit_failure_rate"
	AlertIncompleteRate AlertType = "fit_incomplete_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialBackoff = 200 * time.Millisecond
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Windows with fewer than MinFinished finished runs never alert.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	finished := snap.Finished()
	if finished == 0 || finished < a.cfg.MinFinished {
		return nil
	}

	var alerts []Alert
	now := time.Now().UTC()

	if snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Fit failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %.0fh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Incomplete runs hit the iteration cap, stalled or were cancelled.
	if snap.IncompleteRate > a.cfg.IncompleteRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertIncompleteRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of fits ended incomplete (%d / %d in last %.0fh)",
				snap.IncompleteRate*100, snap.Incomplete, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"incomplete_rate": snap.IncompleteRate,
				"threshold":       a.cfg.IncompleteRateThreshold,
				"incomplete":      snap.Incomplete,
				"finished":        finished,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert. Server errors are transient, client
// errors are not.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
