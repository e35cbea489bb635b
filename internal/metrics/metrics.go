// Package metrics provides Prometheus metrics for the BOSTARTER auth core.
package metrics

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
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bostarter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bostarter",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// AuthAttempts counts login attempts by outcome
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total login attempts by outcome (success, invalid_credentials, rate_limited, bad_admin_code)",
		},
		[]string{"outcome"},
	)

	// Registrations counts registration attempts by outcome
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Total registration attempts by outcome (success, validation_failed, duplicate)",
		},
		[]string{"outcome"},
	)

	// SessionsActive is a best-effort gauge of established sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bostarter",
			Subsystem: "auth",
			Name:      "sessions_active",
			Help:      "Sessions established minus sessions destroyed by this process",
		},
	)

	// RateLimitRejections counts requests denied by the limiter
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total requests denied by the rate limiter, by action",
		},
		[]string{"action"},
	)
)

var (
	// EventsWritten counts persisted event records by category
	EventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "written_total",
			Help:      "Total event records persisted, by category",
		},
		[]string{"category"},
	)

	// EventWriteRetries counts retried event writes
	EventWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "write_retries_total",
			Help:      "Total retried event store writes",
		},
	)

	// EventsDropped counts events that were never persisted, by reason
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped, by reason (volume_cap, store_failure)",
		},
		[]string{"reason"},
	)

	// EventsDeduplicated counts events skipped inside the de-dup window
	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "deduplicated_total",
			Help:      "Total events skipped as duplicates within the de-dup window",
		},
	)

	// EventCacheHits counts read-cache hits
	EventCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "cache_hits_total",
			Help:      "Total event query cache hits",
		},
	)

	// EventCacheMisses counts read-cache misses
	EventCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bostarter",
			Subsystem: "events",
			Name:      "cache_misses_total",
			Help:      "Total event query cache misses",
		},
	)
)

var (
	// DBConnectionsOpen tracks open database connections
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bostarter",
			Subsystem: "db",
			Name:      "connections_open",
			Help:      "Number of open database connections",
		},
	)

	// DBConnectionsInUse tracks database connections currently in use
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bostarter",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Number of database connections currently in use",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bostarter",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bostarter",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
