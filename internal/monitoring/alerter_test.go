package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signmatch/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		ReviewBacklogMax: 50,
		StaleReviewHours: 48,
		DLQDepthMax:      10,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	oldest := time.Now().Add(-2 * time.Hour)
	snap := &MetricsSnapshot{
		ReviewUnresolved: 10,
		OldestUnresolved: &oldest,
		OldestAgeHours:   2,
		DLQDepth:         1,
		Breakers:         map[string]string{"ocr": "closed"},
		LookbackHours:    24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		ReviewUnresolved: 80,
		ReviewCreated:    30,
		Signed:           70,
		AutoMatchRate:    0.7,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "80 unresolved")
	assert.Contains(t, alerts[0].Message, "70.0%")
}

func TestAlerter_Evaluate_StaleReview(t *testing.T) {
	a := NewAlerter(thresholds())

	oldest := time.Now().Add(-72 * time.Hour)
	snap := &MetricsSnapshot{
		ReviewUnresolved: 1,
		OldestUnresolved: &oldest,
		OldestAgeHours:   72,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleReview, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "72h old")
}

func TestAlerter_Evaluate_DLQDepth(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 11})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQDepth, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{Breakers: map[string]string{
		"storage": "open",
		"ocr":     "open",
		"gmail":   "half-open",
	}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Equal(t, "Circuit open for ocr, storage", alerts[0].Message)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	oldest := time.Now().Add(-100 * time.Hour)
	snap := &MetricsSnapshot{
		ReviewUnresolved: 60,
		OldestUnresolved: &oldest,
		OldestAgeHours:   100,
		DLQDepth:         20,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertReviewBacklog])
	assert.True(t, types[AlertStaleReview])
	assert.True(t, types[AlertDLQDepth])
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	oldest := time.Now().Add(-1000 * time.Hour)
	snap := &MetricsSnapshot{
		ReviewUnresolved: 9999,
		OldestUnresolved: &oldest,
		OldestAgeHours:   1000,
		DLQDepth:         9999,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertReviewBacklog, Severity: "medium", Message: "test alert 1"},
		{Type: AlertDLQDepth, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Len(t, sent, 2)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertReviewBacklog, Message: "test"},
	})
	assert.Empty(t, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Empty(t, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDLQDepth, Message: "test"},
	})
	assert.Empty(t, sent)
}
