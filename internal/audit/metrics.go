package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for configuration audit tracking.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_audit_changes_recorded_total",
			Help: "Total number of configuration changes durably recorded",
		}, []string{"action"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trackgate_audit_persist_failures_total",
			Help: "Total number of configuration change persistence failures",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackgate_audit_persist_duration_seconds",
			Help:    "Duration of synchronous audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "trackgate_audit_outbox_published_total",
			Help: "Total number of audit rows published to the event stream",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trackgate_audit_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish batches",
		}),
	}
}

// IncRecorded increments the recorded counter for action.
func (m *Metrics) IncRecorded(action Action) {
	m.Recorded.WithLabelValues(string(action)).Inc()
}

// IncPersistFailures increments the persist failures counter.
func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

// ObservePersistDuration records the duration of a synchronous write.
func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) AddPublished(n int) {
	m.Published.Add(float64(n))
}

func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}
