package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trackgate/internal/ratelimit/models"
)

type Metrics struct {
	Admitted         *prometheus.CounterVec
	Denied           *prometheus.CounterVec
	Throttled        *prometheus.CounterVec
	FallbackServed   prometheus.Counter
	MissingLimitDeny *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Admitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_ratelimit_admitted_total",
			Help: "Requests admitted by the per-caller rate limiter",
		}, []string{"class"}),
		Denied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_ratelimit_denied_total",
			Help: "Requests denied by the per-caller rate limiter",
		}, []string{"class"}),
		Throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_ratelimit_global_throttled_total",
			Help: "Requests rejected by the process-wide throttle",
		}, []string{"class"}),
		FallbackServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "trackgate_ratelimit_fallback_total",
			Help: "Admissions served by process-local buckets while the shared store was unavailable",
		}),
		MissingLimitDeny: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_ratelimit_config_missing_total",
			Help: "Requests denied because no limit is configured for their class",
		}, []string{"class"}),
	}
}

func (m *Metrics) RecordResult(class models.EndpointClass, allowed bool) {
	if allowed {
		m.Admitted.WithLabelValues(string(class)).Inc()
		return
	}
	m.Denied.WithLabelValues(string(class)).Inc()
}

func (m *Metrics) IncrementThrottled(class models.EndpointClass) {
	m.Throttled.WithLabelValues(string(class)).Inc()
}

func (m *Metrics) IncrementFallback() {
	m.FallbackServed.Inc()
}

func (m *Metrics) IncrementMissingLimit(class models.EndpointClass) {
	m.MissingLimitDeny.WithLabelValues(string(class)).Inc()
}
