// Package metrics exposes Prometheus collectors for fetches, rate limiting and
// the status server. Collectors exist from package init so observations are
// always safe; Register attaches them to a registry.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_fetch_attempts_total",
			Help: "Fetch attempts, labeled by site and status class.",
		},
		[]string{"site", "status_class"},
	)

	fetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_fetch_retries_total",
			Help: "Fetch retries scheduled after a retryable status or transport failure.",
		},
		[]string{"site"},
	)

	fetchBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_fetch_bytes_total",
			Help: "Response bytes read, labeled by site.",
		},
		[]string{"site"},
	)

	rateLimitDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	passesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_passes_total",
			Help: "Completed resolution passes.",
		},
	)

	passDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_pass_duration_seconds",
			Help:    "Wall time of a resolution pass.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	unresolvedRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolver_unresolved_records",
			Help: "Unresolved records after the latest pass.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_http_requests_total",
			Help: "Status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_http_request_duration_seconds",
			Help:    "Status server latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Register attaches every collector to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		fetchAttemptsTotal,
		fetchRetriesTotal,
		fetchBytesTotal,
		rateLimitDelaySeconds,
		passesTotal,
		passDurationSeconds,
		unresolvedRecords,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

// SanitizeSite extracts a lowercase hostname from rawURL, or "unknown".
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

// StatusClass groups an HTTP status, using "error" for transport failures.
func StatusClass(status int, err error) string {
	switch {
	case err != nil:
		return "error"
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Handler serves the given gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFetchAttempt records one fetch attempt and its body size.
func ObserveFetchAttempt(rawURL string, status int, bytesRead int, err error) {
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, StatusClass(status, err)).Inc()
	if bytesRead > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesRead))
	}
}

// ObserveFetchRetry records a scheduled retry.
func ObserveFetchRetry(rawURL string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRateLimitDelay records the duration of a limiter wait.
func ObserveRateLimitDelay(site string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(site).Observe(d.Seconds())
}

// ObservePass records a completed pass.
func ObservePass(d time.Duration, unresolvedAfter int) {
	passesTotal.Inc()
	passDurationSeconds.Observe(d.Seconds())
	unresolvedRecords.Set(float64(unresolvedAfter))
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
