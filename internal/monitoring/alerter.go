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

	"github.com/medreg-data/regsync/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertSourceStale    AlertType = "source_stale"
	AlertBacklogDepth   AlertType = "backlog_depth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsSucceeded + snap.RunsFailed
	if finished >= 3 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingest run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.RunFailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.RunsFailed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		staleCutoff := now.Add(-time.Duration(a.cfg.StaleAfterHours) * time.Hour)
		for _, src := range snap.Sources {
			if src.LastSuccessAt != nil && src.LastSuccessAt.After(staleCutoff) {
				continue
			}
			msg := fmt.Sprintf("Source %s has never completed a run", src.SourceKey)
			details := map[string]any{"source_key": src.SourceKey}
			if src.LastSuccessAt != nil {
				msg = fmt.Sprintf("Source %s last succeeded %s ago (threshold %dh)",
					src.SourceKey, now.Sub(*src.LastSuccessAt).Round(time.Hour), a.cfg.StaleAfterHours)
				details["last_success_at"] = src.LastSuccessAt
			}
			alerts = append(alerts, Alert{
				Type:      AlertSourceStale,
				Severity:  "medium",
				Message:   msg,
				Details:   details,
				Timestamp: now,
			})
		}
	}

	if a.cfg.BacklogThreshold > 0 && snap.PendingOpen > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklogDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Reconciliation backlog has %d open records, over threshold %d",
				snap.PendingOpen, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"pending_open":   snap.PendingOpen,
				"conflicts_open": snap.ConflictsOpen,
				"threshold":      a.cfg.BacklogThreshold,
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

// sendWebhook posts a single alert to the webhook URL.
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
