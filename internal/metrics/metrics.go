// Package metrics exposes Prometheus collectors for the haul service.
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

// Scrape append outcomes.
const (
	OutcomeAdded     = "added"
	OutcomeDuplicate = "duplicate"
	OutcomeCapacity  = "capacity"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	haulsCreatedTotal          prometheus.Counter
	quotaRejectionsTotal       prometheus.Counter
	scrapeAppendsTotal         *prometheus.CounterVec
	writeConflictsTotal        prometheus.Counter
	extractionPopulatedRatio   *prometheus.HistogramVec
	exportsTotal               *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haul_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "haul_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		haulsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haul_hauls_created_total",
				Help: "Total number of hauls created.",
			},
		)

		quotaRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haul_quota_rejections_total",
				Help: "Haul creations rejected because the caller exhausted its free quota.",
			},
		)

		scrapeAppendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haul_scrape_appends_total",
				Help: "Scrape append attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		writeConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haul_write_conflicts_total",
				Help: "Optimistic concurrency conflicts seen while mutating hauls.",
			},
		)

		extractionPopulatedRatio = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "haul_extraction_populated_ratio",
				Help:    "Share of listing fields populated per HTML extraction, labeled by scraper.",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"scraper"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haul_exports_total",
				Help: "Successful haul exports, labeled by format.",
			},
			[]string{"format"},
		)
	})
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

// ObserveHaulCreated counts a persisted haul.
func ObserveHaulCreated() {
	Init()
	haulsCreatedTotal.Inc()
}

// ObserveQuotaRejection counts a creation refused by the quota guard.
func ObserveQuotaRejection() {
	Init()
	quotaRejectionsTotal.Inc()
}

// ObserveScrapeAppend counts an append attempt with one of the Outcome constants.
func ObserveScrapeAppend(outcome string) {
	Init()
	scrapeAppendsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWriteConflict counts a lost compare-and-swap.
func ObserveWriteConflict() {
	Init()
	writeConflictsTotal.Inc()
}

// ObserveExtraction records how much of the listing schema an extraction filled.
func ObserveExtraction(scraper string, ratio float64) {
	Init()
	extractionPopulatedRatio.WithLabelValues(scraper).Observe(ratio)
}

// ObserveExport counts a successful export.
func ObserveExport(format string) {
	Init()
	exportsTotal.WithLabelValues(format).Inc()
}
