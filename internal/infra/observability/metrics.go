package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the miles ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration       *prometheus.HistogramVec
	operationsRecorded    *prometheus.CounterVec
	installmentsScheduled prometheus.Counter
	installmentsSettled   prometheus.Counter
	inconsistencies       *prometheus.CounterVec
	storeErrors           *prometheus.CounterVec
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "milhas_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milhas_operations_recorded_total",
				Help: "Operations written to the ledger, by type.",
			},
			[]string{"type"},
		),
		installmentsScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "milhas_installments_scheduled_total",
				Help: "Installments generated for financed purchases.",
			},
		),
		installmentsSettled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "milhas_installments_settled_total",
				Help: "Installments marked as paid.",
			},
		),
		inconsistencies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milhas_inconsistencies_total",
				Help: "Recoverable data inconsistencies (e.g. purchase referencing a missing card).",
			},
			[]string{"kind"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milhas_store_errors_total",
				Help: "Total errors from the backing store.",
			},
			[]string{"store"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milhas_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milhas_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrOperation counts an operation written to the ledger.
func (m *Metrics) IncrOperation(opType string) {
	m.operationsRecorded.WithLabelValues(opType).Inc()
}

// AddInstallmentsScheduled counts generated installments.
func (m *Metrics) AddInstallmentsScheduled(n int) {
	m.installmentsScheduled.Add(float64(n))
}

// AddInstallmentsSettled counts installments marked as paid.
func (m *Metrics) AddInstallmentsSettled(n int) {
	m.installmentsSettled.Add(float64(n))
}

// IncrInconsistency counts a recoverable inconsistency by kind.
func (m *Metrics) IncrInconsistency(kind string) {
	m.inconsistencies.WithLabelValues(kind).Inc()
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// InconsistencyCount returns the cumulative count for one inconsistency kind.
func (m *Metrics) InconsistencyCount(kind string) float64 {
	return getCounterValue(m.inconsistencies.WithLabelValues(kind))
}

// CacheHitCount returns the cumulative hits for one cache.
func (m *Metrics) CacheHitCount(cache string) float64 {
	return getCounterValue(m.cacheHits.WithLabelValues(cache))
}

// StoreErrorCount returns the cumulative errors for one store.
func (m *Metrics) StoreErrorCount(store string) float64 {
	return getCounterValue(m.storeErrors.WithLabelValues(store))
}

// getCounterValue extracts the current float64 value of a counter.
func getCounterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
