// Package metrics exposes Prometheus collectors for the scrape and
// enrichment pipeline. It is the process-wide MetricsSink: a pure
// write-through counter registry.
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
	scrapePagesTotal        *prometheus.CounterVec
	scrapeEventsTotal       *prometheus.CounterVec
	scrapeRunsTotal         *prometheus.CounterVec
	scrapeErrorsTotal       *prometheus.CounterVec
	scrapeRunDuration       prometheus.Histogram
	degradedRunStreak       prometheus.Gauge
	missedSchedulesTotal    *prometheus.CounterVec
	droppedFiringsTotal     *prometheus.CounterVec
	cacheOpsTotal           *prometheus.CounterVec
	rateLimitWaitsTotal     *prometheus.CounterVec
	rateLimitWaitSeconds    *prometheus.HistogramVec
	fetchRequestsTotal      *prometheus.CounterVec
	fetchDurationSeconds    *prometheus.HistogramVec
	geocodeAttemptsTotal    *prometheus.CounterVec
	enrichmentTotal         *prometheus.CounterVec
	providerCallSeconds     *prometheus.HistogramVec
	repositoryUpsertsTotal  *prometheus.CounterVec
	repositoryRetriesTotals prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		scrapePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Calendar pages processed, labeled by source and result.",
			},
			[]string{"source", "result"},
		)
		scrapeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_events_total",
				Help: "Events flowing through the pipeline, labeled by source and stage.",
			},
			[]string{"source", "stage"},
		)
		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Scrape runs, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)
		scrapeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_errors_total",
				Help: "Pipeline errors, labeled by stable error code.",
			},
			[]string{"code"},
		)
		scrapeRunDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_run_duration_seconds",
				Help:    "Wall-clock duration of scrape runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)
		degradedRunStreak = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_degraded_run_streak",
				Help: "Consecutive degraded runs; >= 2 pages an operator.",
			},
		)
		missedSchedulesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_missed_firings_total",
				Help: "Schedule gaps detected after process restart.",
			},
			[]string{"job"},
		)
		droppedFiringsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_dropped_firings_total",
				Help: "Firings dropped because the previous run was still active.",
			},
			[]string{"job"},
		)
		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_cache_ops_total",
				Help: "Cache operations, labeled by op (hit, miss, eviction, validator_fail, store).",
			},
			[]string{"op"},
		)
		rateLimitWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_waits_total",
				Help: "Token-bucket waits, labeled by host.",
			},
			[]string{"host"},
		)
		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_wait_seconds",
				Help:    "Histogram of rate-limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_requests_total",
				Help: "Fetches, labeled by host and result (cache, network, error).",
			},
			[]string{"host", "result"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Network fetch latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"host"},
		)
		geocodeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geocode_attempts_total",
				Help: "Geocode attempts, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)
		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detail_enrichment_total",
				Help: "Detail enrichment attempts, labeled by result.",
			},
			[]string{"result"},
		)
		providerCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_seconds",
				Help:    "Latency of opaque provider calls, labeled by provider.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		)
		repositoryUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repository_upserts_total",
				Help: "Event upserts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		repositoryRetriesTotals = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "repository_retries_total",
				Help: "In-task retries against the store.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a page-level outcome for a source.
func ObservePage(source, result string) {
	scrapePagesTotal.WithLabelValues(source, result).Inc()
}

// ObserveEvents adds n to the given pipeline stage counter.
func ObserveEvents(source, stage string, n int) {
	if n > 0 {
		scrapeEventsTotal.WithLabelValues(source, stage).Add(float64(n))
	}
}

// ObserveRun records a finished run and its duration.
func ObserveRun(source, outcome string, d time.Duration) {
	scrapeRunsTotal.WithLabelValues(source, outcome).Inc()
	scrapeRunDuration.Observe(d.Seconds())
}

// ObserveError counts an error by its stable code.
func ObserveError(code string) {
	scrapeErrorsTotal.WithLabelValues(code).Inc()
}

// SetDegradedStreak publishes the consecutive-degraded-run count.
func SetDegradedStreak(n int) {
	degradedRunStreak.Set(float64(n))
}

// ObserveMissedSchedule records a gap after restart for a job.
func ObserveMissedSchedule(job string) {
	missedSchedulesTotal.WithLabelValues(job).Inc()
}

// ObserveDroppedFiring records an overlapping firing that was dropped.
func ObserveDroppedFiring(job string) {
	droppedFiringsTotal.WithLabelValues(job).Inc()
}

// ObserveCache counts a cache operation.
func ObserveCache(op string) {
	cacheOpsTotal.WithLabelValues(op).Inc()
}

// ObserveRateLimitWait records a token-bucket wait.
func ObserveRateLimitWait(host string, d time.Duration) {
	rateLimitWaitsTotal.WithLabelValues(host).Inc()
	rateLimitWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveFetch records a fetch result for a host.
func ObserveFetch(host, result string, d time.Duration) {
	fetchRequestsTotal.WithLabelValues(host, result).Inc()
	if result == "network" {
		fetchDurationSeconds.WithLabelValues(host).Observe(d.Seconds())
	}
}

// ObserveGeocode records a geocode attempt.
func ObserveGeocode(provider, result string) {
	geocodeAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveEnrichment records a detail enrichment attempt.
func ObserveEnrichment(result string) {
	enrichmentTotal.WithLabelValues(result).Inc()
}

// ObserveProviderCall records the latency of an opaque provider call.
func ObserveProviderCall(provider string, d time.Duration) {
	providerCallSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveUpsert records an upsert outcome.
func ObserveUpsert(outcome string) {
	repositoryUpsertsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRepositoryRetry counts one in-task store retry.
func ObserveRepositoryRetry() {
	repositoryRetriesTotals.Inc()
}
