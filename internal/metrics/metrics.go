// Package metrics exposes Prometheus collectors for the digest service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	feedFetchesTotal           *prometheus.CounterVec
	resolutionsTotal           *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	extractBytesTotal          *prometheus.CounterVec
	summarizeOutcomesTotal     *prometheus.CounterVec
	summarizeDurationSeconds   *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsProbeFallbackTotal   prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		feedFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_feed_fetches_total",
				Help: "Feed queries, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_resolutions_total",
				Help: "Link resolutions, labeled by state.",
			},
			[]string{"state"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_extractions_total",
				Help: "Content extractions, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		extractBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_extract_bytes_total",
				Help: "Bytes of article HTML fetched, labeled by site.",
			},
			[]string{"site"},
		)

		summarizeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_summarize_outcomes_total",
				Help: "Summarization calls, labeled by stage and outcome kind.",
			},
			[]string{"stage", "outcome"},
		)

		summarizeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_summarize_duration_seconds",
				Help:    "Histogram of summarization latencies, labeled by stage.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"stage"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_runs_total",
				Help: "Completed pipeline runs, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digest_active_workers",
				Help: "Number of workers currently processing a candidate.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsProbeFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_robots_probe_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFeedFetch records one feed query.
func ObserveFeedFetch(source, status string) {
	Init()
	feedFetchesTotal.WithLabelValues(source, status).Inc()
}

// ObserveResolution records the state a link resolution finished in.
func ObserveResolution(state string) {
	Init()
	resolutionsTotal.WithLabelValues(state).Inc()
}

// ObserveExtraction records an extraction attempt and the bytes fetched for it.
func ObserveExtraction(site, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	extractionsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		extractBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveSummarize records a summarization call. An empty outcome is reported as "ok".
func ObserveSummarize(stage, outcome string, duration time.Duration) {
	Init()
	if outcome == "" {
		outcome = "ok"
	}
	summarizeOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	summarizeDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given result.
func ObserveRun(result string) {
	Init()
	runsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsProbeFallback increments the robots.txt fallback counter.
func ObserveRobotsProbeFallback() {
	Init()
	robotsProbeFallbackTotal.Inc()
}
