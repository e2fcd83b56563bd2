package domain_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"tenantgate/internal/domain"
)

func TestVerificationModeString(t *testing.T) {
	if domain.ModeProduction.String() != "production" {
		t.Errorf("expected 'production', got %q", domain.ModeProduction.String())
	}
	if domain.ModeTest.String() != "test" {
		t.Errorf("expected 'test', got %q", domain.ModeTest.String())
	}
}

func TestIdentityHasRole(t *testing.T) {
	id := domain.Identity{
		Subject: "user-1",
		Roles:   []string{"admin", "tenant_acme"},
	}

	if !id.HasRole("admin") {
		t.Error("expected identity to have role admin")
	}
	if id.HasRole("auditor") {
		t.Error("expected identity to NOT have role auditor")
	}
	if id.HasRole("") {
		t.Error("expected identity to NOT have empty role")
	}
}

func TestIdentityHasTenant(t *testing.T) {
	id := domain.Identity{Subject: "user-1", TenantID: "acme"}
	if !id.HasTenant("acme") {
		t.Error("expected identity to be bound to acme")
	}
	if id.HasTenant("globex") {
		t.Error("expected identity to NOT be bound to globex")
	}

	none := domain.Identity{Subject: "user-2"}
	if none.HasTenant("") {
		t.Error("identity without tenant should not match empty tenant id")
	}
}

func TestKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindMissingToken, http.StatusUnauthorized},
		{domain.KindMalformedToken, http.StatusUnauthorized},
		{domain.KindUnknownKey, http.StatusUnauthorized},
		{domain.KindInvalidSignature, http.StatusUnauthorized},
		{domain.KindExpired, http.StatusUnauthorized},
		{domain.KindIssuerMismatch, http.StatusUnauthorized},
		{domain.KindAudienceMismatch, http.StatusUnauthorized},
		{domain.KindFetchError, http.StatusUnauthorized},
		{domain.KindTenantMissing, http.StatusBadRequest},
		{domain.KindTenantAmbiguous, http.StatusBadRequest},
		{domain.KindTenantNotFound, http.StatusNotFound},
		{domain.KindTenantInactive, http.StatusForbidden},
		{domain.KindTenantMismatch, http.StatusForbidden},
		{domain.KindTenantLookup, http.StatusServiceUnavailable},
		{domain.KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestTokenKindsShareResponse(t *testing.T) {
	kinds := []domain.Kind{
		domain.KindMalformedToken,
		domain.KindUnknownKey,
		domain.KindInvalidSignature,
		domain.KindExpired,
		domain.KindIssuerMismatch,
		domain.KindAudienceMismatch,
		domain.KindFetchError,
	}
	for _, k := range kinds {
		if k.Code() != "unauthorized" {
			t.Errorf("%s: expected code 'unauthorized', got %q", k, k.Code())
		}
		if k.PublicMessage() != domain.KindMissingToken.PublicMessage() {
			t.Errorf("%s: public message leaks the failure kind: %q", k, k.PublicMessage())
		}
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := domain.NewError(domain.KindExpired, "token expired at 12:00", nil).
		WithTenant("acme").
		WithRequest("req-1")

	if !errors.Is(err, domain.ErrExpired) {
		t.Error("expected error to match ErrExpired")
	}
	if errors.Is(err, domain.ErrInvalidSignature) {
		t.Error("expected error to NOT match ErrInvalidSignature")
	}

	wrapped := fmt.Errorf("verifying: %w", err)
	if !errors.Is(wrapped, domain.ErrExpired) {
		t.Error("expected wrapped error to match ErrExpired")
	}
	if domain.KindOf(wrapped) != domain.KindExpired {
		t.Errorf("expected KindExpired, got %v", domain.KindOf(wrapped))
	}

	var de *domain.Error
	if !errors.As(wrapped, &de) {
		t.Fatal("expected errors.As to find *domain.Error")
	}
	if de.Context.TenantID != "acme" || de.Context.RequestID != "req-1" {
		t.Errorf("unexpected context: %+v", de.Context)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := domain.NewError(domain.KindFetchError, "fetching key set", cause)

	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to cause")
	}
	if got := err.Error(); got != "fetch_error: fetching key set: connection refused" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if domain.KindOf(errors.New("boom")) != domain.KindUnknown {
		t.Error("expected KindUnknown for a foreign error")
	}
	if domain.KindOf(nil) != domain.KindUnknown {
		t.Error("expected KindUnknown for nil")
	}
}

func TestWithTenantDoesNotMutateSentinel(t *testing.T) {
	_ = domain.ErrTenantNotFound.WithTenant("acme")
	if domain.ErrTenantNotFound.Context.TenantID != "" {
		t.Error("WithTenant mutated the sentinel")
	}
}

func TestDefaultTenantSettings(t *testing.T) {
	s := domain.DefaultTenantSettings()
	if s.APIRateLimit != 1000 {
		t.Errorf("expected api rate limit 1000, got %d", s.APIRateLimit)
	}
	if !s.Features.APIAccess {
		t.Error("expected api access enabled by default")
	}
}
