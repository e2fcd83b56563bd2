package middleware

import (
	"net"
	"net/http"
	"strconv"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// ClientRateLimit returns middleware that caps requests per client IP. It
// runs ahead of Gateway so requests that fail authentication still spend
// budget before any token is verified.
// The metrics parameter is optional; pass nil to skip metric recording.
func ClientRateLimit(limiter gw.RateLimiter, perMinute int, m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(w, r, limiter, m, "client", "client:"+clientIP(r), perMinute) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns middleware that enforces request budgets. Behind Gateway
// each tenant gets its own bucket sized by Settings.APIRateLimit; requests
// without a tenant are limited per client IP. defaultPerMinute applies when
// a tenant sets no limit.
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(limiter gw.RateLimiter, defaultPerMinute int, m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			layer, key, perMinute := "ip", "ip:"+clientIP(r), defaultPerMinute
			if t, ok := gw.TenantFrom(r.Context()); ok {
				layer, key = "tenant", "tenant:"+t.ID
				if t.Settings.APIRateLimit > 0 {
					perMinute = t.Settings.APIRateLimit
				}
			}
			if !allow(w, r, limiter, m, layer, key, perMinute) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow spends one token from key's bucket and writes the 429 response when
// the bucket is empty.
func allow(w http.ResponseWriter, r *http.Request, limiter gw.RateLimiter, m *telemetry.GatewayMetrics, layer, key string, perMinute int) bool {
	result := limiter.Allow(key, perMinute)
	if m != nil {
		decision := "allowed"
		if !result.Allowed {
			decision = "denied"
		}
		m.RecordRateLimitDecision(r.Context(), layer, decision)
	}
	if !result.Allowed {
		writeRateLimitError(w, r, result.RetryAfter)
	}
	return result.Allowed
}

func clientIP(r *http.Request) string {
	// Use RemoteAddr directly. X-Forwarded-For is client-controlled and
	// must not be trusted without a validated trusted proxy list.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitError(w http.ResponseWriter, r *http.Request, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{
		Error:      "rate_limited",
		Message:    "too many requests",
		RequestID:  gw.RequestIDFromContext(r.Context()),
		RetryAfter: retryAfter,
	})
}
