// Package metrics exposes Prometheus collectors for the crawler service.
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

// Fetch and extract outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	crawlerFetchesTotal        *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerExtractsTotal       *prometheus.CounterVec
	crawlerLinksDiscovered     prometheus.Counter
	crawlerActiveFetches       prometheus.Gauge
	crawlerGateQueued          prometheus.Gauge
	crawlerLayerDuration       prometheus.Histogram
	crawlerArchiveErrors       prometheus.Counter
	crawlerRunsTotal           *prometheus.CounterVec
	crawlerActiveRuns          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of fetch units completed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerExtractsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_extracts_total",
				Help: "Total number of link extractions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerLinksDiscovered = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_links_discovered_total",
				Help: "Links admitted to a next-layer frontier.",
			},
		)

		crawlerActiveFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_fetches",
				Help: "Number of fetch units currently running.",
			},
		)

		crawlerGateQueued = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_host_gate_queued",
				Help: "Fetch units waiting at a host gate for a free per-host slot.",
			},
		)

		crawlerLayerDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_layer_duration_seconds",
				Help:    "Histogram of wall time from layer start to barrier drain.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)

		crawlerArchiveErrors = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_archive_errors_total",
				Help: "Documents that could not be written to the archive.",
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_runs",
				Help: "Number of crawl runs currently executing.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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

// ObserveFetch records a completed fetch unit.
func ObserveFetch(id string, ok bool, duration time.Duration) {
	Init()
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	crawlerFetchesTotal.WithLabelValues(SanitizeSite(id), outcome).Inc()
	crawlerFetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveBytes adds to the fetched byte count for a site.
func ObserveBytes(id string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerBytesTotal.WithLabelValues(SanitizeSite(id)).Add(float64(n))
}

// ObserveExtract records a link extraction and how many links it admitted.
func ObserveExtract(ok bool, admitted int) {
	Init()
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	crawlerExtractsTotal.WithLabelValues(outcome).Inc()
	if admitted > 0 {
		crawlerLinksDiscovered.Add(float64(admitted))
	}
}

// IncActiveFetches increments the running fetch gauge.
func IncActiveFetches() {
	Init()
	crawlerActiveFetches.Inc()
}

// DecActiveFetches decrements the running fetch gauge.
func DecActiveFetches() {
	Init()
	crawlerActiveFetches.Dec()
}

// AddGateQueued moves the host-gate backlog gauge by delta.
func AddGateQueued(delta int) {
	Init()
	crawlerGateQueued.Add(float64(delta))
}

// ObserveLayer records how long a layer took to drain.
func ObserveLayer(duration time.Duration) {
	Init()
	crawlerLayerDuration.Observe(duration.Seconds())
}

// ObserveArchiveError counts a failed archive write.
func ObserveArchiveError() {
	Init()
	crawlerArchiveErrors.Inc()
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	crawlerActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	crawlerActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
