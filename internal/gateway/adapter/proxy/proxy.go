package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// Identity headers the gateway sets on upstream requests. Client-supplied
// copies are always removed first.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserRoles = "X-User-Roles"
	HeaderRequestID = "X-Request-ID"
)

const upstreamLabel = "upstream"

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Router serves the health endpoints and forwards authenticated requests to
// the upstream service.
type Router struct {
	mux     *http.ServeMux
	checks  map[string]Check
	metrics *telemetry.GatewayMetrics
}

// NewRouter creates a router proxying to upstreamURL. Each proxied request is
// bounded by timeout when it is positive. checks back /readyz.
// The metrics parameter is optional; pass nil to skip metric recording.
func NewRouter(upstreamURL string, timeout time.Duration, checks map[string]Check, m *telemetry.GatewayMetrics) (*Router, error) {
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("parse upstream URL: %q is not absolute", upstreamURL)
	}

	r := &Router{
		mux:     http.NewServeMux(),
		checks:  checks,
		metrics: m,
	}

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)

	var upstreamHandler http.Handler = r.makeHandler(upstream)
	if timeout > 0 {
		body, _ := json.Marshal(domain.ErrorResponse{
			Error:   "timeout",
			Message: "upstream did not respond in time",
		})
		upstreamHandler = http.TimeoutHandler(upstreamHandler, timeout, string(body))
	}
	r.mux.Handle("/", upstreamHandler)

	return r, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) makeHandler(upstream *url.URL) http.HandlerFunc {
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = upstream.Scheme
			req.URL.Host = upstream.Host
			if upstream.Path != "" && upstream.Path != "/" {
				req.URL.Path = strings.TrimSuffix(upstream.Path, "/") + req.URL.Path
				req.URL.RawPath = ""
			}
			req.Host = upstream.Host

			// Upstream trusts the identity headers, never the bearer token.
			req.Header.Del("Authorization")
			for _, h := range []string{HeaderUserID, HeaderUserName, HeaderTenantID, HeaderUserRoles} {
				req.Header.Del(h)
			}

			if rc, ok := gw.RequestContextFrom(req.Context()); ok {
				req.Header.Set(HeaderUserID, rc.Identity.Subject)
				if rc.Identity.Username != "" {
					req.Header.Set(HeaderUserName, rc.Identity.Username)
				}
				req.Header.Set(HeaderTenantID, rc.Tenant.ID)
				if len(rc.Identity.Roles) > 0 {
					req.Header.Set(HeaderUserRoles, strings.Join(rc.Identity.Roles, ","))
				}
			}

			// Propagate request ID
			if reqID := gw.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set(HeaderRequestID, reqID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			status, code, msg := http.StatusBadGateway, "bad_gateway", "upstream unavailable"
			if errors.Is(err, context.DeadlineExceeded) {
				status, code, msg = http.StatusGatewayTimeout, "gateway_timeout", "upstream did not respond in time"
			}
			slog.WarnContext(req.Context(), "upstream request failed",
				"error", err,
				"status", status,
				"request_id", gw.RequestIDFromContext(req.Context()),
			)
			writeError(w, status, code, msg, req)
		},
	}

	return func(w http.ResponseWriter, req *http.Request) {
		if _, ok := gw.RequestContextFrom(req.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", req)
			return
		}

		start := time.Now()
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		proxy.ServeHTTP(sw, req)

		if r.metrics != nil {
			duration := time.Since(start).Seconds()
			r.metrics.RecordProxyRequest(req.Context(), upstreamLabel, sw.Code, duration)
		}
	}
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("encoding healthz response", "error", err)
	}
}

// readyz runs every check and reports each failing dependency by name.
func (r *Router) readyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := r.checks[name](ctx); err != nil {
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			failed[name] = "unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"status": "ready"}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		resp = map[string]any{"status": "not_ready", "checks": failed}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encoding readyz response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:     code,
		Message:   msg,
		RequestID: gw.RequestIDFromContext(req.Context()),
	}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
