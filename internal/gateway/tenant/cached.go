package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// CachedLookup decorates a tenant lookup with the shared store. Only found
// tenants are cached; store failures fall through to the wrapped lookup.
type CachedLookup struct {
	next    gateway.TenantLookup
	store   gateway.Store
	ttl     time.Duration
	metrics *telemetry.GatewayMetrics
}

// NewCachedLookup wraps next. metrics may be nil.
func NewCachedLookup(next gateway.TenantLookup, store gateway.Store, ttl time.Duration, m *telemetry.GatewayMetrics) *CachedLookup {
	return &CachedLookup{next: next, store: store, ttl: ttl, metrics: m}
}

// FindByID implements gateway.TenantLookup.
func (c *CachedLookup) FindByID(ctx context.Context, id string) (domain.Tenant, error) {
	return c.find(ctx, "tenant:id:"+id, func() (domain.Tenant, error) {
		return c.next.FindByID(ctx, id)
	})
}

// FindByDomain implements gateway.TenantLookup.
func (c *CachedLookup) FindByDomain(ctx context.Context, d string) (domain.Tenant, error) {
	return c.find(ctx, "tenant:domain:"+d, func() (domain.Tenant, error) {
		return c.next.FindByDomain(ctx, d)
	})
}

func (c *CachedLookup) find(ctx context.Context, key string, load func() (domain.Tenant, error)) (domain.Tenant, error) {
	if raw, err := c.store.Get(ctx, key); err == nil {
		var t domain.Tenant
		if err := json.Unmarshal(raw, &t); err == nil {
			c.record(ctx, "hit")
			return t, nil
		}
		slog.WarnContext(ctx, "discarding undecodable cached tenant", "key", key)
	} else if !errors.Is(err, gateway.ErrCacheMiss) {
		slog.WarnContext(ctx, "tenant cache unavailable", "key", key, "error", err)
	}
	c.record(ctx, "miss")

	t, err := load()
	if err != nil {
		return domain.Tenant{}, err
	}

	raw, err := json.Marshal(t)
	if err == nil {
		err = c.store.Set(ctx, key, raw, c.ttl)
	}
	if err != nil {
		slog.WarnContext(ctx, "tenant cache write failed", "key", key, "error", err)
	}
	return t, nil
}

func (c *CachedLookup) record(ctx context.Context, result string) {
	if c.metrics != nil {
		c.metrics.RecordTenantLookup(ctx, "cache", result)
	}
}
