// Package metrics exposes Prometheus collectors for sitewatch runs.
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

// Record outcomes used as label values.
const (
	OutcomeSkipped     = "skipped"
	OutcomeExcluded    = "excluded"
	OutcomeUpdated     = "updated"
	OutcomeUnchanged   = "unchanged"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

var (
	runsTotal                  *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	hashDurationSeconds        prometheus.Histogram
	reportsTotal               *prometheus.CounterVec
	lastRunTimestamp           prometheus.Gauge
	activeFetches              prometheus.Gauge
	rateLimitWaitSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_runs_total",
				Help: "Total number of scan runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_records_total",
				Help: "Records processed per run, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_fetch_duration_seconds",
				Help:    "Histogram of page fetch and extraction latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		hashDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewatch_hash_duration_seconds",
				Help:    "Histogram of fingerprint computation latencies.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_reports_total",
				Help: "Reports written, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		lastRunTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_last_run_timestamp_seconds",
				Help: "Unix time at which the last scan run finished.",
			},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_active_fetches",
				Help: "Number of page fetches currently in flight.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewatch_rate_limit_wait_seconds",
				Help:    "Time fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts a finished run and stamps the last-run gauge.
func ObserveRun(outcome string, finished time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	lastRunTimestamp.Set(float64(finished.Unix()))
}

// ObserveRecord counts one record outcome.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(outcome string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveHash records the latency of one fingerprint computation.
func ObserveHash(d time.Duration) {
	hashDurationSeconds.Observe(d.Seconds())
}

// ObserveReport counts a report write attempt.
func ObserveReport(kind, outcome string) {
	reportsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}

// ObserveRateLimitWait records how long a fetch was held by the rate limiter.
func ObserveRateLimitWait(d time.Duration) {
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
