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

	"github.com/sells-group/fabroute/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertOrderFailureRate AlertType = "order_failure_rate"
	AlertBridgeDelivery   AlertType = "bridge_delivery"
	AlertOutboxBacklog    AlertType = "outbox_backlog"
)

// minFinishedOrders is the sample size below which the failure rate is not
// evaluated.
const minFinishedOrders = 5

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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finished()
	if finished >= minFinishedOrders && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOrderFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Order failure rate %.1f%% exceeds threshold %.1f%% (%d failed or rejected / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.OrdersFailed+snap.OrdersRejected, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.OrdersFailed,
				"rejected":     snap.OrdersRejected,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.OpenDeliveryAlerts > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBridgeDelivery,
			Severity: "critical",
			Message: fmt.Sprintf(
				"%d partner call(s) undelivered after retries",
				snap.OpenDeliveryAlerts,
			),
			Details: map[string]any{
				"open_alerts":  snap.OpenDeliveryAlerts,
				"outbox_depth": snap.OutboxDepth,
			},
			Timestamp: now,
		})
	}

	if a.cfg.OutboxBacklogLimit > 0 && snap.OutboxDepth > a.cfg.OutboxBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertOutboxBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"Outbox holds %d undelivered partner calls (limit %d)",
				snap.OutboxDepth, a.cfg.OutboxBacklogLimit,
			),
			Details: map[string]any{
				"outbox_depth": snap.OutboxDepth,
				"limit":        a.cfg.OutboxBacklogLimit,
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
		if err := a.sendWebhook(ctx, alert); err != nil {
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

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
