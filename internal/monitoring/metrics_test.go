package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/resilience"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordOutcome("AUTO_MATCH")
	m.RecordOutcome("AUTO_MATCH")
	m.RecordOutcome("MANUAL_REVIEW")
	m.RecordCollaboratorFailure("ocr")
	m.RecordDLQ("ocr")
	m.RecordLabelFailure()
	m.ObserveStage("match", 20*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.documentsTotal.WithLabelValues("AUTO_MATCH")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.documentsTotal.WithLabelValues("MANUAL_REVIEW")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.collaboratorFailures.WithLabelValues("ocr")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dlqEnqueued.WithLabelValues("ocr")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.labelFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_ObserveSnapshot(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveSnapshot(&MetricsSnapshot{
		ReviewUnresolved: 4,
		DLQDepth:         1,
		Breakers: map[string]string{
			resilience.ServiceOCR:     resilience.CircuitOpen.String(),
			resilience.ServiceStorage: resilience.CircuitHalfOpen.String(),
			"gmail":                   resilience.CircuitClosed.String(),
		},
	})

	assert.Equal(t, float64(4), testutil.ToFloat64(m.reviewBacklog))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dlqDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.breakerState.WithLabelValues(resilience.ServiceOCR)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.breakerState.WithLabelValues(resilience.ServiceStorage)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.breakerState.WithLabelValues("gmail")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOutcome("AUTO_MATCH")
		m.RecordCollaboratorFailure("upload")
		m.RecordDLQ("upload")
		m.RecordLabelFailure()
		m.ObserveStage("ocr", time.Second)
		m.ObserveSnapshot(&MetricsSnapshot{})
	})
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: register metric")
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordOutcome("ALREADY_PROCESSED")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `signmatch_pipeline_documents_total{outcome="ALREADY_PROCESSED"} 1`)
}
