// Package telemetry exposes Prometheus metrics for the scraping pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Total number of source runs, labeled by source and status.",
		},
		[]string{"source", "status"},
	)

	scraperListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_listings_total",
			Help: "Total number of listings handled, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	scraperFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Total number of fetch attempts, labeled by domain and result.",
		},
		[]string{"domain", "result"},
	)

	scraperRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Histogram of source run durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	scraperActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_runs",
			Help: "Number of source runs currently executing.",
		},
	)

	scraperRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
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
)

// Listing outcomes recorded by ObserveListing.
const (
	ListingStored  = "stored"
	ListingDropped = "dropped"
	ListingSinkErr = "sink_error"
)

// ObserveRun records one finished source run.
func ObserveRun(source, status string, duration time.Duration) {
	scraperRunsTotal.WithLabelValues(source, status).Inc()
	scraperRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveListing records the outcome of a single listing.
func ObserveListing(source, outcome string) {
	scraperListingsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveFetch records a fetch attempt against a domain.
func ObserveFetch(domain, result string) {
	scraperFetchesTotal.WithLabelValues(domain, result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	scraperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveRuns increments the in-flight run count.
func IncActiveRuns() {
	scraperActiveRuns.Inc()
}

// DecActiveRuns decrements the in-flight run count.
func DecActiveRuns() {
	scraperActiveRuns.Dec()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
