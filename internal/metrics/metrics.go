// Package metrics exposes Prometheus collectors for the capture service.
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
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	captureBytesTotal          prometheus.Counter
	clickOutcomesTotal         *prometheus.CounterVec
	uploadsTotal               *prometheus.CounterVec
	browserSessionsActive      prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_total",
				Help: "Capture attempts, labeled by outcome (success or error kind).",
			},
			[]string{"outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capture_duration_seconds",
				Help:    "Wall time of a capture from connect to release, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		)

		captureBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capture_bytes_total",
				Help: "Total bytes of captured files.",
			},
		)

		clickOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_outcomes_total",
				Help: "Click attempts, labeled by status and strategy.",
			},
			[]string{"status", "strategy"},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uploads_total",
				Help: "Upload relay results, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		browserSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "browser_sessions_active",
				Help: "Remote browser sessions currently open.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveCapture records a finished capture. outcome is "success" or an
// error kind.
func ObserveCapture(outcome string, duration time.Duration, bytes int) {
	Init()
	capturesTotal.WithLabelValues(outcome).Inc()
	captureDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytes > 0 {
		captureBytesTotal.Add(float64(bytes))
	}
}

// ObserveClick counts a click attempt.
func ObserveClick(status, strategy string) {
	Init()
	clickOutcomesTotal.WithLabelValues(status, strategy).Inc()
}

// ObserveUpload counts an upload relay result.
func ObserveUpload(sink, result string) {
	Init()
	uploadsTotal.WithLabelValues(sink, result).Inc()
}

// SessionOpened increments the active browser session gauge.
func SessionOpened() {
	Init()
	browserSessionsActive.Inc()
}

// SessionClosed decrements the active browser session gauge.
func SessionClosed() {
	Init()
	browserSessionsActive.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}
