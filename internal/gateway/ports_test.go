package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
)

func TestRequestContextRoundTrip(t *testing.T) {
	rc := domain.RequestContext{
		RequestID: "req-1",
		Identity:  domain.Identity{Subject: "user-1", TenantID: "acme"},
		Tenant:    domain.Tenant{ID: "acme", IsActive: true},
	}
	ctx := gateway.ContextWithRequestContext(context.Background(), rc)

	got, ok := gateway.RequestContextFrom(ctx)
	if !ok {
		t.Fatal("expected request context")
	}
	if got.Identity.Subject != "user-1" || got.Tenant.ID != "acme" {
		t.Errorf("unexpected request context: %+v", got)
	}

	id, ok := gateway.IdentityFrom(ctx)
	if !ok || id.TenantID != "acme" {
		t.Errorf("unexpected identity: %+v", id)
	}
	tenant, ok := gateway.TenantFrom(ctx)
	if !ok || tenant.ID != "acme" {
		t.Errorf("unexpected tenant: %+v", tenant)
	}
}

func TestRequestContextAbsent(t *testing.T) {
	if _, ok := gateway.RequestContextFrom(context.Background()); ok {
		t.Error("expected no request context")
	}
	if _, ok := gateway.IdentityFrom(context.Background()); ok {
		t.Error("expected no identity")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := gateway.ContextWithRequestID(context.Background(), "abc")
	if gateway.RequestIDFromContext(ctx) != "abc" {
		t.Errorf("expected 'abc', got %q", gateway.RequestIDFromContext(ctx))
	}
	if gateway.RequestIDFromContext(context.Background()) != "" {
		t.Error("expected empty request id")
	}
}

func TestStatusWriterCapturesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &gateway.StatusWriter{ResponseWriter: rec, Code: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)

	if sw.Code != http.StatusTeapot {
		t.Errorf("expected captured 418, got %d", sw.Code)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected recorder 418, got %d", rec.Code)
	}
	if sw.Unwrap() != rec {
		t.Error("expected Unwrap to return the underlying writer")
	}
}

func TestRequestLogSharedAcrossContexts(t *testing.T) {
	if gateway.RequestLogFrom(context.Background()) != nil {
		t.Fatal("expected nil request log on bare context")
	}

	rl := &gateway.RequestLog{}
	ctx := gateway.ContextWithRequestLog(context.Background(), rl)
	inner := gateway.ContextWithRequestID(ctx, "req-1")

	gateway.RequestLogFrom(inner).TenantID = "acme"
	if rl.TenantID != "acme" {
		t.Errorf("inner write not visible to outer holder: %+v", rl)
	}
}
