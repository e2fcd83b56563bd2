// Package tenant decides which tenant a request belongs to and checks that
// the tenant may be served.
package tenant

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// Signals are the request-supplied tenant hints.
type Signals struct {
	HeaderTenantID string
	Host           string
}

// Resolver applies the resolution order: token tenant, then X-Tenant-ID,
// then the Host name.
type Resolver struct {
	lookup  gateway.TenantLookup
	metrics *telemetry.GatewayMetrics
}

// NewResolver creates a Resolver. metrics may be nil.
func NewResolver(lookup gateway.TenantLookup, m *telemetry.GatewayMetrics) *Resolver {
	return &Resolver{lookup: lookup, metrics: m}
}

// Resolve returns the active tenant for the request or a *domain.Error of a
// tenant kind.
func (r *Resolver) Resolve(ctx context.Context, id domain.Identity, sig Signals) (domain.Tenant, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "tenant.resolve")
	defer span.End()

	t, source, err := r.resolve(ctx, id, sig)
	span.SetAttributes(attribute.String("tenant.source", source))
	if err != nil {
		span.SetAttributes(attribute.String("tenant.error_kind", domain.KindOf(err).String()))
		span.SetStatus(codes.Error, "tenant rejected")
		return domain.Tenant{}, err
	}
	span.SetAttributes(attribute.String("tenant.id", t.ID))
	return t, nil
}

func (r *Resolver) resolve(ctx context.Context, id domain.Identity, sig Signals) (domain.Tenant, string, error) {
	header := strings.TrimSpace(sig.HeaderTenantID)

	switch {
	case id.TenantID != "":
		if header != "" && !id.HasTenant(header) {
			r.record(ctx, "identity", "mismatch")
			return domain.Tenant{}, "identity", domain.Errorf(domain.KindTenantMismatch,
				"header names tenant %q", header).WithTenant(id.TenantID)
		}
		t, err := r.find(ctx, "identity", id.TenantID, r.lookup.FindByID)
		return t, "identity", err
	case header != "":
		t, err := r.find(ctx, "header", header, r.lookup.FindByID)
		return t, "header", err
	}

	if host := NormalizeHost(sig.Host); host != "" {
		t, err := r.find(ctx, "host", host, r.lookup.FindByDomain)
		return t, "host", err
	}

	r.record(ctx, "none", "missing")
	return domain.Tenant{}, "none", domain.Errorf(domain.KindTenantMissing, "no tenant in token, header, or host")
}

func (r *Resolver) find(ctx context.Context, source, key string, lookup func(context.Context, string) (domain.Tenant, error)) (domain.Tenant, error) {
	t, err := lookup(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.record(ctx, source, "not_found")
		return domain.Tenant{}, domain.NewError(domain.KindTenantNotFound, source+" lookup", err).WithTenant(key)
	case err != nil:
		r.record(ctx, source, "error")
		return domain.Tenant{}, domain.NewError(domain.KindTenantLookup, source+" lookup", err).WithTenant(key)
	case !t.IsActive:
		r.record(ctx, source, "inactive")
		return domain.Tenant{}, domain.Errorf(domain.KindTenantInactive, "tenant is inactive").WithTenant(t.ID)
	}
	r.record(ctx, source, "found")
	return t, nil
}

func (r *Resolver) record(ctx context.Context, source, result string) {
	if r.metrics != nil {
		r.metrics.RecordTenantLookup(ctx, source, result)
	}
}

// NormalizeHost strips any port and trailing dot and lower-cases the name.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}
