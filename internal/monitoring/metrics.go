package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/resilience"
)

const namespace = "signmatch"

// Metrics holds the Prometheus instruments for document processing.
// All record methods are safe on a nil *Metrics.
type Metrics struct {
	documentsTotal       *prometheus.CounterVec   // by outcome
	stageDuration        *prometheus.HistogramVec // by stage
	collaboratorFailures *prometheus.CounterVec   // by stage
	dlqEnqueued          *prometheus.CounterVec   // by stage
	labelFailures        prometheus.Counter
	reviewBacklog        prometheus.Gauge
	dlqDepth             prometheus.Gauge
	breakerState         *prometheus.GaugeVec // 0=closed, 1=half-open, 2=open

	registry *prometheus.Registry
}

// NewMetrics creates the instruments and registers them with registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents processed by final outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "collaborator_failures_total",
			Help:      "Documents aborted by a collaborator failure, by stage",
		}, []string{"stage"}),
		dlqEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "enqueued_total",
			Help:      "Documents recorded in the dead letter queue, by stage",
		}, []string{"stage"}),
		labelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "labels",
			Name:      "transition_failures_total",
			Help:      "Label transitions with at least one failed call",
		}),
		reviewBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "unresolved_items",
			Help:      "Unresolved review items at the last collection",
		}),
		dlqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "depth",
			Help:      "Dead letter entries at the last collection",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "circuit_state",
			Help:      "Circuit breaker state by collaborator (0=closed, 1=half-open, 2=open)",
		}, []string{"service"}),
	}

	for _, c := range []prometheus.Collector{
		m.documentsTotal, m.stageDuration, m.collaboratorFailures, m.dlqEnqueued,
		m.labelFailures, m.reviewBacklog, m.dlqDepth, m.breakerState,
	} {
		if err := registry.Register(c); err != nil {
			return nil, eris.Wrap(err, "monitoring: register metric")
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts a finished document.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCollaboratorFailure counts a document aborted at stage.
func (m *Metrics) RecordCollaboratorFailure(stage string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(stage).Inc()
}

// RecordDLQ counts a dead letter entry written for stage.
func (m *Metrics) RecordDLQ(stage string) {
	if m == nil {
		return
	}
	m.dlqEnqueued.WithLabelValues(stage).Inc()
}

// RecordLabelFailure counts a label transition that did not fully succeed.
func (m *Metrics) RecordLabelFailure() {
	if m == nil {
		return
	}
	m.labelFailures.Inc()
}

// ObserveSnapshot copies backlog gauges from a collected snapshot.
func (m *Metrics) ObserveSnapshot(snap *MetricsSnapshot) {
	if m == nil || snap == nil {
		return
	}
	m.reviewBacklog.Set(float64(snap.ReviewUnresolved))
	m.dlqDepth.Set(float64(snap.DLQDepth))
	for service, state := range snap.Breakers {
		m.breakerState.WithLabelValues(service).Set(breakerValue(state))
	}
}

func breakerValue(state string) float64 {
	switch state {
	case resilience.CircuitHalfOpen.String():
		return 1
	case resilience.CircuitOpen.String():
		return 2
	default:
		return 0
	}
}
