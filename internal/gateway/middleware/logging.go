package middleware

import (
	"log/slog"
	"net/http"
	"time"

	gw "tenantgate/internal/gateway"
)

// Logging returns a middleware that logs each request using slog.
// Identity and tenant fields are filled in by Gateway further down the chain.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			reqLog := &gw.RequestLog{}
			ctx := gw.ContextWithRequestLog(r.Context(), reqLog)

			next.ServeHTTP(sw, r.WithContext(ctx))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", gw.RequestIDFromContext(ctx),
				"user_id", reqLog.UserID,
				"tenant_id", reqLog.TenantID,
				"remote_addr", r.RemoteAddr,
			}
			if reqLog.Mode != "" {
				attrs = append(attrs, "mode", reqLog.Mode)
			}
			if reqLog.ErrorKind != "" {
				attrs = append(attrs, "error_kind", reqLog.ErrorKind)
			}
			logger.InfoContext(ctx, "request", attrs...)
		})
	}
}
