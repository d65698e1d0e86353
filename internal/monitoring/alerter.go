package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/config"
	"github.com/sells-group/signmatch/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReviewBacklog AlertType = "review_backlog"
	AlertStaleReview   AlertType = "stale_review"
	AlertDLQDepth      AlertType = "dlq_depth"
	AlertCircuitOpen   AlertType = "circuit_open"
)

// Alert is the webhook payload for one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for the configured thresholds.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// alertRule returns the alert for a breached threshold, or nil.
type alertRule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

var alertRules = []alertRule{backlogRule, staleRule, dlqRule, circuitRule}

// Evaluate checks the snapshot against every threshold. A zero threshold
// disables its rule.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	at := snap.CollectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var alerts []Alert
	for _, rule := range alertRules {
		if alert := rule(a.cfg, snap); alert != nil {
			alert.Timestamp = at
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

func backlogRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.ReviewBacklogMax <= 0 || snap.ReviewUnresolved <= cfg.ReviewBacklogMax {
		return nil
	}
	return &Alert{
		Type:     AlertReviewBacklog,
		Severity: "medium",
		Message: fmt.Sprintf("%d unresolved review items exceed threshold %d (auto-match rate %.1f%% in last %dh)",
			snap.ReviewUnresolved, cfg.ReviewBacklogMax, snap.AutoMatchRate*100, snap.LookbackHours),
		Details: map[string]any{
			"unresolved":      snap.ReviewUnresolved,
			"threshold":       cfg.ReviewBacklogMax,
			"created":         snap.ReviewCreated,
			"auto_match_rate": snap.AutoMatchRate,
		},
	}
}

func staleRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.StaleReviewHours <= 0 || snap.OldestUnresolved == nil || snap.OldestAgeHours <= float64(cfg.StaleReviewHours) {
		return nil
	}
	return &Alert{
		Type:     AlertStaleReview,
		Severity: "medium",
		Message: fmt.Sprintf("Oldest unresolved review item is %.0fh old (threshold %dh)",
			snap.OldestAgeHours, cfg.StaleReviewHours),
		Details: map[string]any{
			"oldest_unresolved": snap.OldestUnresolved,
			"age_hours":         snap.OldestAgeHours,
			"threshold_hours":   cfg.StaleReviewHours,
		},
	}
}

func dlqRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.DLQDepthMax <= 0 || snap.DLQDepth <= cfg.DLQDepthMax {
		return nil
	}
	return &Alert{
		Type:     AlertDLQDepth,
		Severity: "high",
		Message:  fmt.Sprintf("%d failed documents in dead letter queue exceed threshold %d", snap.DLQDepth, cfg.DLQDepthMax),
		Details:  map[string]any{"dlq_depth": snap.DLQDepth, "threshold": cfg.DLQDepthMax},
	}
}

// circuitRule fires while any collaborator breaker is open. It has no threshold.
func circuitRule(_ config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	var open []string
	for name, state := range snap.Breakers {
		if state == resilience.CircuitOpen.String() {
			open = append(open, name)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Strings(open)
	return &Alert{
		Type:     AlertCircuitOpen,
		Severity: "high",
		Message:  "Circuit open for " + strings.Join(open, ", "),
		Details:  map[string]any{"services": open},
	}
}

// SendAlerts delivers alerts to the configured webhook URL and returns the
// ones that were accepted.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" {
		return nil
	}
	var sent []Alert
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		zap.L().Info("monitoring: alert sent", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		sent = append(sent, alert)
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
