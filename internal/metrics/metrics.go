// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncJobsTotal              *prometheus.CounterVec
	syncRecordsUpsertedTotal   *prometheus.CounterVec
	syncDatasetFailuresTotal   *prometheus.CounterVec
	syncFetchRetriesTotal      *prometheus.CounterVec
	syncFetchDurationSeconds   *prometheus.HistogramVec
	syncActiveWorkers          prometheus.Gauge
	syncRateLimitDelaysSeconds *prometheus.HistogramVec
	syncLastRunTimestamp       *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_jobs_total",
				Help: "Total number of entity jobs completed, labeled by result.",
			},
			[]string{"result"},
		)

		syncRecordsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_records_upserted_total",
				Help: "Total number of records written, labeled by dataset.",
			},
			[]string{"dataset"},
		)

		syncDatasetFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_dataset_failures_total",
				Help: "Total number of aborted (entity, dataset) units, labeled by dataset.",
			},
			[]string{"dataset"},
		)

		syncFetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_fetch_retries_total",
				Help: "Total number of failed provider calls that were retried, labeled by api.",
			},
			[]string{"api"},
		)

		syncFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocksync_fetch_duration_seconds",
				Help:    "Histogram of successful provider call latencies, labeled by api.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"api"},
		)

		syncActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stocksync_active_workers",
				Help: "Number of workers currently syncing an entity.",
			},
		)

		syncRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocksync_rate_limit_delays_seconds",
				Help:    "Histogram of client-side throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"api"},
		)

		syncLastRunTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stocksync_last_run_timestamp_seconds",
				Help: "Unix time the last run finished, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given result.
func ObserveJob(result string) {
	Init()
	syncJobsTotal.WithLabelValues(result).Inc()
}

// ObserveUpserts adds n written records for dataset.
func ObserveUpserts(dataset string, n int) {
	Init()
	if n > 0 {
		syncRecordsUpsertedTotal.WithLabelValues(dataset).Add(float64(n))
	}
}

// ObserveDatasetFailure counts one aborted (entity, dataset) unit.
func ObserveDatasetFailure(dataset string) {
	Init()
	syncDatasetFailuresTotal.WithLabelValues(dataset).Inc()
}

// ObserveFetchRetry counts one failed provider call.
func ObserveFetchRetry(api string) {
	Init()
	syncFetchRetriesTotal.WithLabelValues(api).Inc()
}

// ObserveFetch records the latency of a successful provider call.
func ObserveFetch(api string, duration time.Duration) {
	Init()
	syncFetchDurationSeconds.WithLabelValues(api).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	syncActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	syncActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(api string, duration time.Duration) {
	Init()
	syncRateLimitDelaysSeconds.WithLabelValues(api).Observe(duration.Seconds())
}

// ObserveRun stamps the completion time of a run.
func ObserveRun(result string, finished time.Time) {
	Init()
	syncLastRunTimestamp.WithLabelValues(result).Set(float64(finished.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
