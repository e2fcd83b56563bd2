package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
)

// writeError sends the JSON envelope for kind. The body never says more
// than the kind's public message.
func writeError(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	status := kind.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgate"`)
	}
	writeJSON(w, status, domain.ErrorResponse{
		Error:     kind.Code(),
		Message:   kind.PublicMessage(),
		RequestID: gw.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
