package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "firewatch"

// Metrics owns a registry and every collector firewatch exports. It
// satisfies cache.Observer and scheduler.Observer.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	queuePending *prometheus.GaugeVec
	queueWait    *prometheus.HistogramVec

	retries      *prometheus.CounterVec
	upstreamErrs *prometheus.CounterVec

	runDuration prometheus.Histogram
	runResults  prometheus.Gauge
	runsTotal   *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache lookups that found a live entry.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found nothing or an expired entry.",
		}, []string{"cache"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries removed by the periodic sweep.",
		}, []string{"cache"}),
		queuePending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Tasks waiting for admission per upstream resource.",
		}, []string{"resource"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time tasks spent waiting for admission.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"resource"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried upstream calls by resource and failure kind.",
		}, []string{"resource", "kind"}),
		upstreamErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream operations that failed after retries.",
		}, []string{"resource"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_run_duration_seconds",
			Help:      "Wall-clock duration of analysis runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		runResults: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_ranked_results",
			Help:      "Number of ranked results in the latest run.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Completed analysis runs by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits, m.cacheMisses, m.cacheEvictions,
		m.queuePending, m.queueWait,
		m.retries, m.upstreamErrs,
		m.runDuration, m.runResults, m.runsTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Hit(name string)  { m.cacheHits.WithLabelValues(name).Inc() }
func (m *Metrics) Miss(name string) { m.cacheMisses.WithLabelValues(name).Inc() }

func (m *Metrics) Evicted(name string, n int) {
	m.cacheEvictions.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) Pending(resource string, n int) {
	m.queuePending.WithLabelValues(resource).Set(float64(n))
}

func (m *Metrics) Started(resource string, waited time.Duration) {
	m.queueWait.WithLabelValues(resource).Observe(waited.Seconds())
}

// Retry counts one retried attempt.
func (m *Metrics) Retry(resource, kind string) {
	m.retries.WithLabelValues(resource, kind).Inc()
}

// Failure counts an operation that failed for good.
func (m *Metrics) Failure(resource string) {
	m.upstreamErrs.WithLabelValues(resource).Inc()
}

// RunCompleted records one analysis run.
func (m *Metrics) RunCompleted(d time.Duration, results int, empty bool) {
	outcome := "ok"
	if empty {
		outcome = "empty"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	m.runResults.Set(float64(results))
}
