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

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDisagreementRate AlertType = "ml_disagreement_rate"
	AlertApproveRate      AlertType = "approve_rate"
	AlertInvalidStatus    AlertType = "invalid_parents_status"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured bounds and posts alerts to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			OnRetry:        resilience.RetryLogger("monitoring", "webhook"),
		},
	}
}

// Evaluate checks the snapshot against the configured bounds. Rate checks need
// at least MinDecisions samples; invalid status hits alert on any count.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.InvalidStatus > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertInvalidStatus,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d decision(s) hit the invalid parents_status rule in last %dh",
				snap.InvalidStatus, snap.LookbackHours,
			),
			Details: map[string]any{
				"count": snap.InvalidStatus,
				"total": snap.Total,
			},
			Timestamp: now,
		})
	}

	if snap.MLDecisions >= a.cfg.MinDecisions && a.cfg.DisagreementRateMax > 0 &&
		snap.DisagreementRate > a.cfg.DisagreementRateMax {
		alerts = append(alerts, Alert{
			Type:     AlertDisagreementRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Oracle overrode rules on %.1f%% of decisions, above %.1f%% (%d approve / %d decline of %d in last %dh)",
				snap.DisagreementRate*100, a.cfg.DisagreementRateMax*100,
				snap.MLOverApprove, snap.MLOverDecline, snap.MLDecisions, snap.LookbackHours,
			),
			Details: map[string]any{
				"disagreement_rate": snap.DisagreementRate,
				"threshold":         a.cfg.DisagreementRateMax,
				"over_approve":      snap.MLOverApprove,
				"over_decline":      snap.MLOverDecline,
				"ml_decisions":      snap.MLDecisions,
			},
			Timestamp: now,
		})
	}

	if snap.Total >= a.cfg.MinDecisions && snap.Total > 0 &&
		(snap.ApproveRate < a.cfg.ApproveRateMin || snap.ApproveRate > a.cfg.ApproveRateMax) {
		alerts = append(alerts, Alert{
			Type:     AlertApproveRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Approve rate %.1f%% outside [%.1f%%, %.1f%%] over %d decisions in last %dh",
				snap.ApproveRate*100, a.cfg.ApproveRateMin*100, a.cfg.ApproveRateMax*100,
				snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"approve_rate": snap.ApproveRate,
				"min":          a.cfg.ApproveRateMin,
				"max":          a.cfg.ApproveRateMax,
				"total":        snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL, retrying
// unreachable or 5xx responses. Returns the number of alerts successfully sent.
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return resilience.Unavailable(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
