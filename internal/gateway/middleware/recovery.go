package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
)

// Recovery catches panics from downstream handlers and returns a 500 JSON error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}
			slog.ErrorContext(r.Context(), "panic recovered",
				"error", err,
				"request_id", gateway.RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeError(w, r, domain.KindUnknown)
		}()
		next.ServeHTTP(w, r)
	})
}
