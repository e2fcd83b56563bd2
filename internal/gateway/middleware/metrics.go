package middleware

import (
	"net/http"
	"time"

	gw "tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// proxiedRoute labels every request that is not one of the gateway's own
// routes. Upstream paths are unbounded and must not become label values.
const proxiedRoute = "proxied"

// Metrics returns middleware that records HTTP request metrics.
// Place as the outermost middleware to capture the full request lifecycle.
// Requests to routes are labelled with their path, all others as "proxied".
func Metrics(m *telemetry.GatewayMetrics, routes ...string) Middleware {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			if m != nil {
				duration := time.Since(start).Seconds()
				m.RecordHTTPRequest(r.Context(), r.Method, routeLabel(known, r.URL.Path), sw.Code, duration)
			}
		})
	}
}

func routeLabel(known map[string]struct{}, path string) string {
	if _, ok := known[path]; ok {
		return path
	}
	return proxiedRoute
}
