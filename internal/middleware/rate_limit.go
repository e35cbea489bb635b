package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bostarter/backend/internal/events"
	"github.com/bostarter/backend/internal/metrics"
	"github.com/bostarter/backend/internal/ratelimit"
	"github.com/bostarter/backend/internal/security"
)

// Profile describes one rate-limit budget. Keys are derived from the
// profile name and the client IP, so distinct profiles never share a
// window even for the same client.
type Profile struct {
	Name   string
	Max    int
	Window time.Duration
}

// Common profiles. Login has its own tighter budget inside the auth
// service; these guard the outer HTTP surface.
var (
	ProfileAuth    = Profile{Name: "auth", Max: 30, Window: time.Minute}
	ProfileGeneral = Profile{Name: "general", Max: 120, Window: time.Minute}
	ProfileAdmin   = Profile{Name: "admin", Max: 60, Window: time.Minute}
)

// RateLimitMiddleware applies a per-client request budget using the shared
// limiter, which may be Redis backed so every instance sees the same
// counters.
type RateLimitMiddleware struct {
	limiter  ratelimit.Limiter
	eventLog *events.Logger
	logger   *slog.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware instance
func NewRateLimitMiddleware(limiter ratelimit.Limiter, eventLog *events.Logger, logger *slog.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitMiddleware{
		limiter:  limiter,
		eventLog: eventLog,
		logger:   logger,
	}
}

// Limit returns a middleware enforcing the given profile. When the limiter
// itself fails the request is allowed through; availability wins over
// strictness for the outer surface.
func (m *RateLimitMiddleware) Limit(profile Profile) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := security.RealClientIP(r)
			key := profile.Name + ":" + ip

			allowed, err := m.limiter.Allow(r.Context(), key, profile.Max, profile.Window)
			if err != nil {
				m.logger.Warn("rate limiter unavailable, continuing open",
					"profile", profile.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			remaining, err := m.limiter.Remaining(r.Context(), key, profile.Max)
			if err != nil {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(profile.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				metrics.RateLimitRejections.WithLabelValues(profile.Name).Inc()
				m.logRejection(r, profile, ip)
				writeRateLimitError(w, profile.Window)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) logRejection(r *http.Request, profile Profile, ip string) {
	if m.eventLog == nil {
		return
	}
	_ = m.eventLog.Log(r.Context(), events.TypeRateLimited, events.LevelWarning, "", events.SecurityPayload{
		Action:    profile.Name,
		IPAddress: ip,
		Detail:    r.Method + " " + r.URL.Path,
	})
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, window time.Duration) {
	retryAfter := int64(window.Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "TOO_MANY_REQUESTS",
			"message": "Rate limit exceeded. Please try again later.",
			"details": map[string]interface{}{
				"retry_after": retryAfter,
			},
		},
		"timestamp": time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
