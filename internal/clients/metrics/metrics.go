package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results. Misses are deliberately not broken down further.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// Metrics provides observability for the client registry and domain lookups.
// Tracks mutation counts and the public lookup critical path.
type Metrics struct {
	ClientsCreated   prometheus.Counter
	Mutations        *prometheus.CounterVec
	Conflicts        *prometheus.CounterVec
	LookupDuration   prometheus.Histogram
	LookupResults    *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	IndexRebuilds    *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "trackgate_clients_created_total",
			Help: "Total number of clients created",
		}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_registry_mutations_total",
			Help: "Committed registry mutations by operation",
		}, []string{"operation"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_registry_conflicts_total",
			Help: "Registry mutations rejected with a conflict, by operation",
		}, []string{"operation"}),
		LookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackgate_domain_lookup_duration_seconds",
			Help:    "Duration of public domain lookups (collection critical path)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
		}),
		LookupResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_domain_lookups_total",
			Help: "Public lookups by result",
		}, []string{"result"}),
		MutationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackgate_registry_mutation_duration_seconds",
			Help:    "Duration of registry mutations including the audit write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		IndexRebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackgate_domain_index_rebuilds_total",
			Help: "Domain index rebuilds by result",
		}, []string{"result"}),
	}
}

// RegisterIndexSize exposes the live index size as a gauge.
func RegisterIndexSize(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trackgate_domain_index_entries",
		Help: "Number of domains currently in the lookup index",
	}, func() float64 { return float64(size()) })
}

func (m *Metrics) IncrementClientCreated() {
	m.ClientsCreated.Inc()
}

// ObserveMutation records a committed mutation and its duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMutation(operation string, start time.Time) {
	m.Mutations.WithLabelValues(operation).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementConflict(operation string) {
	m.Conflicts.WithLabelValues(operation).Inc()
}

// ObserveLookup records the duration and result of a public lookup.
func (m *Metrics) ObserveLookup(start time.Time, hit bool) {
	m.LookupDuration.Observe(time.Since(start).Seconds())
	result := LookupMiss
	if hit {
		result = LookupHit
	}
	m.LookupResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementIndexRebuild(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.IndexRebuilds.WithLabelValues(result).Inc()
}
