// Package middleware provides HTTP middleware for the deployment manager API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depman_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depman_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	checkinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depman_checkins_total",
			Help: "Total number of agent check-ins",
		},
	)

	updatesDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depman_updates_dispatched_total",
			Help: "Total number of update directives dispatched to agents",
		},
	)

	updateResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depman_update_results_total",
			Help: "Total number of update results reported by agents",
		},
		[]string{"outcome"},
	)

	artifactDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depman_artifact_downloads_total",
			Help: "Total number of artifact downloads by version",
		},
		[]string{"version"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depman_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			path := normalizePath(r)
			status := strconv.Itoa(wrapped.status)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				errorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

// normalizePath normalizes URL paths to prevent cardinality explosion.
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	// Fallback: collapse UUID segments.
	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		if len(seg) == 36 && strings.Count(seg, "-") == 4 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// RecordCheckin increments the check-in counter, and the dispatch counter
// when the check-in produced an update directive.
func RecordCheckin(dispatched bool) {
	checkinsTotal.Inc()
	if dispatched {
		updatesDispatchedTotal.Inc()
	}
}

// RecordUpdateResult increments the result counter for one reported outcome.
func RecordUpdateResult(outcome string) {
	updateResultsTotal.WithLabelValues(outcome).Inc()
}

// RecordArtifactDownload increments the download counter for a version.
func RecordArtifactDownload(version string) {
	artifactDownloadsTotal.WithLabelValues(version).Inc()
}
