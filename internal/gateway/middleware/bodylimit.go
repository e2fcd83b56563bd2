package middleware

import (
	"net/http"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
)

// MaxBodySize returns middleware that limits request body size to maxBytes.
// A declared Content-Length over the limit is refused with 413 before the
// handler runs; otherwise reads past the limit fail inside the handler.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeJSON(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{
					Error:     "payload_too_large",
					Message:   "request body too large",
					RequestID: gw.RequestIDFromContext(r.Context()),
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
