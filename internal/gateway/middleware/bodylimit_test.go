package middleware_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
	"tenantgate/internal/gateway/middleware"
)

// readAll answers 200 with the byte count, or 413 when the body reader hits the limit.
func readAll(w http.ResponseWriter, r *http.Request) {
	_, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func TestMaxBodySizeStreamedBodies(t *testing.T) {
	const limit int64 = 16

	tests := []struct {
		name       string
		size       int
		wantStatus int
	}{
		{"empty", 0, http.StatusOK},
		{"under limit", 5, http.StatusOK},
		{"at limit", int(limit), http.StatusOK},
		{"over limit", int(limit) + 1, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.MaxBodySize(limit)(http.HandlerFunc(readAll))

			// MultiReader hides the length so the request is treated as chunked.
			body := io.MultiReader(strings.NewReader(strings.Repeat("x", tt.size)))
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			if req.ContentLength != -1 {
				t.Fatalf("expected unknown content length, got %d", req.ContentLength)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestMaxBodySizeRejectsDeclaredLength(t *testing.T) {
	called := false
	handler := middleware.MaxBodySize(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("too long"))
	req = req.WithContext(gw.ContextWithRequestID(req.Context(), "req-413"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("handler should not run for an oversized declared body")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	var resp domain.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Error != "payload_too_large" {
		t.Errorf("expected error code payload_too_large, got %q", resp.Error)
	}
	if resp.RequestID != "req-413" {
		t.Errorf("expected request id req-413, got %q", resp.RequestID)
	}
}

func TestMaxBodySizeAllowsBodylessGet(t *testing.T) {
	handler := middleware.MaxBodySize(1)(http.HandlerFunc(readAll))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
