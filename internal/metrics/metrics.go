// Package metrics exposes Prometheus collectors for the extraction engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal     *prometheus.CounterVec
	fetchErrorsTotal      *prometheus.CounterVec
	recordsExtractedTotal *prometheus.CounterVec
	runsTotal             *prometheus.CounterVec
	schedulerSkipsTotal   prometheus.Counter
	proxyEndpoints        *prometheus.GaugeVec
	proxyQuarantinesTotal prometheus.Counter
	activeWorkers         prometheus.Gauge
	politenessWaitSeconds *prometheus.HistogramVec
	recordQuality         prometheus.Histogram
	fetchDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spin_pages_fetched_total",
				Help: "Total number of pages fetched, labeled by domain and status class.",
			},
			[]string{"domain", "status"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spin_fetch_errors_total",
				Help: "Total number of fetch failures, labeled by error kind.",
			},
			[]string{"kind"},
		)

		recordsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spin_records_extracted_total",
				Help: "Total number of records extracted, labeled by job.",
			},
			[]string{"job"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spin_runs_total",
				Help: "Total number of finished runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		schedulerSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spin_scheduler_overlap_skips_total",
				Help: "Schedule ticks dropped because the job already had a running run.",
			},
		)

		proxyEndpoints = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spin_proxy_endpoints",
				Help: "Number of proxy endpoints per pool status.",
			},
			[]string{"status"},
		)

		proxyQuarantinesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spin_proxy_quarantines_total",
				Help: "Total number of proxy quarantine transitions.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spin_active_workers",
				Help: "Number of workers currently dispatching a fetch.",
			},
		)

		politenessWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spin_politeness_wait_seconds",
				Help:    "Histogram of per-domain politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		recordQuality = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spin_record_quality",
				Help:    "Histogram of record-level extraction quality scores.",
				Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 1},
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spin_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by strategy.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"strategy"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page fetch counter.
func ObservePage(domain, status string) {
	pagesFetchedTotal.WithLabelValues(domain, status).Inc()
}

// ObserveFetchError increments the fetch error counter for the given kind.
func ObserveFetchError(kind string) {
	fetchErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRecord increments the extracted record counter and quality histogram.
func ObserveRecord(job string, quality float64) {
	recordsExtractedTotal.WithLabelValues(job).Inc()
	recordQuality.Observe(quality)
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSchedulerSkip counts a dropped overlapping schedule tick.
func ObserveSchedulerSkip() {
	schedulerSkipsTotal.Inc()
}

// SetProxyEndpoints records the pool size for one status.
func SetProxyEndpoints(status string, n int) {
	proxyEndpoints.WithLabelValues(status).Set(float64(n))
}

// ObserveQuarantine counts a quarantine transition.
func ObserveQuarantine() {
	proxyQuarantinesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObservePolitenessWait records the duration of a politeness delay.
func ObservePolitenessWait(domain string, duration time.Duration) {
	politenessWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveFetchDuration records fetch latency per strategy.
func ObserveFetchDuration(strategy string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}
