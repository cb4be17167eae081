package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the collectors for the cache and allocation core.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Cache
	cacheLookups    *prometheus.CounterVec
	cacheRebuilds   *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
	rebuildRejected prometheus.Counter
	lockAttempts    *prometheus.CounterVec

	// Allocation
	seckillOutcomes *prometheus.CounterVec
	idsIssued       *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

// Default histogram buckets for rebuild duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var promMetrics atomic.Pointer[PrometheusMetrics]

// InitPrometheus initializes the metrics subsystem. Until it is called every
// Record function is a no-op.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by strategy and outcome (hit, null_hit, miss, stale)",
			},
			[]string{"strategy", "outcome"},
		),

		cacheRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_rebuilds_total",
				Help:      "Source-of-truth loads performed to rebuild a cache entry",
			},
			[]string{"strategy", "result"},
		),

		rebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_rebuild_duration_milliseconds",
				Help:      "Duration of cache rebuilds in milliseconds",
				Buckets:   buckets,
			},
			[]string{"strategy"},
		),

		rebuildRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_rebuild_rejected_total",
				Help:      "Asynchronous rebuilds rejected because the pool queue was full",
			},
		),

		lockAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_attempts_total",
				Help:      "Distributed lock acquisition attempts",
			},
			[]string{"acquired"},
		),

		seckillOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "seckill_claims_total",
				Help:      "Seckill claim attempts by outcome",
			},
			[]string{"outcome"},
		),

		idsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ids_issued_total",
				Help:      "Identifiers issued by prefix",
			},
			[]string{"prefix"},
		),

		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limit decisions on the claim endpoint",
			},
			[]string{"allowed"},
		),
	}

	registry.MustRegister(
		pm.cacheLookups,
		pm.cacheRebuilds,
		pm.rebuildDuration,
		pm.rebuildRejected,
		pm.lockAttempts,
		pm.seckillOutcomes,
		pm.idsIssued,
		pm.rateLimited,
	)

	promMetrics.Store(pm)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	pm := promMetrics.Load()
	if pm == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Registry returns the active registry, or nil before InitPrometheus.
func Registry() *prometheus.Registry {
	if pm := promMetrics.Load(); pm != nil {
		return pm.registry
	}
	return nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordCacheLookup counts one cache read.
func RecordCacheLookup(strategy, outcome string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.cacheLookups.WithLabelValues(strategy, outcome).Inc()
	}
}

// RecordRebuild counts one rebuild and observes its duration.
func RecordRebuild(strategy, result string, d time.Duration) {
	if pm := promMetrics.Load(); pm != nil {
		pm.cacheRebuilds.WithLabelValues(strategy, result).Inc()
		pm.rebuildDuration.WithLabelValues(strategy).Observe(float64(d.Milliseconds()))
	}
}

// RecordRebuildRejected counts a rebuild dropped by a saturated pool.
func RecordRebuildRejected() {
	if pm := promMetrics.Load(); pm != nil {
		pm.rebuildRejected.Inc()
	}
}

// RecordLockAttempt counts a TryLock call.
func RecordLockAttempt(acquired bool) {
	if pm := promMetrics.Load(); pm != nil {
		pm.lockAttempts.WithLabelValues(boolLabel(acquired)).Inc()
	}
}

// RecordSeckill counts a claim outcome (ok, sold_out, already_claimed, ...).
func RecordSeckill(outcome string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.seckillOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordIDIssued counts an identifier handed out for prefix.
func RecordIDIssued(prefix string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.idsIssued.WithLabelValues(prefix).Inc()
	}
}

// RecordRateLimit counts a rate limit decision.
func RecordRateLimit(allowed bool) {
	if pm := promMetrics.Load(); pm != nil {
		pm.rateLimited.WithLabelValues(boolLabel(allowed)).Inc()
	}
}
