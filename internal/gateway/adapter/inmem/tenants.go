package inmem

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tenantgate/internal/domain"
)

// Tenants is an in-memory tenant directory implementing gateway.TenantLookup.
type Tenants struct {
	mu       sync.RWMutex
	byID     map[string]domain.Tenant
	byDomain map[string]string
}

// NewTenants creates a directory holding tenants.
func NewTenants(tenants ...domain.Tenant) *Tenants {
	t := &Tenants{
		byID:     make(map[string]domain.Tenant),
		byDomain: make(map[string]string),
	}
	for _, tenant := range tenants {
		t.Put(tenant)
	}
	return t
}

// Put adds or replaces a tenant. Domains match case-insensitively.
func (t *Tenants) Put(tenant domain.Tenant) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byID[tenant.ID]; ok && old.Domain != "" {
		delete(t.byDomain, strings.ToLower(old.Domain))
	}
	t.byID[tenant.ID] = tenant
	if tenant.Domain != "" {
		t.byDomain[strings.ToLower(tenant.Domain)] = tenant.ID
	}
}

// FindByID returns the tenant with id.
func (t *Tenants) FindByID(_ context.Context, id string) (domain.Tenant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tenant, ok := t.byID[id]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant %q: %w", id, domain.ErrNotFound)
	}
	return tenant, nil
}

// FindByDomain returns the tenant serving host name d.
func (t *Tenants) FindByDomain(_ context.Context, d string) (domain.Tenant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byDomain[strings.ToLower(d)]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant for domain %q: %w", d, domain.ErrNotFound)
	}
	return t.byID[id], nil
}

type seedFile struct {
	Tenants []domain.Tenant `yaml:"tenants"`
}

// LoadTenantsFile reads a YAML seed file of the form
//
//	tenants:
//	  - id: acme
//	    name: Acme Corp
//	    domain: acme.example.com
//	    is_active: true
//	    settings:
//	      api_rate_limit: 600
//
// Tenants without settings get domain.DefaultTenantSettings.
func LoadTenantsFile(path string) ([]domain.Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenant seed file: %w", err)
	}
	return ParseTenants(raw)
}

// ParseTenants decodes the YAML seed format described at LoadTenantsFile.
func ParseTenants(raw []byte) ([]domain.Tenant, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing tenant seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Tenants))
	for i, tenant := range f.Tenants {
		if tenant.ID == "" {
			return nil, fmt.Errorf("tenant seed entry %d: missing id", i)
		}
		if seen[tenant.ID] {
			return nil, fmt.Errorf("tenant seed entry %d: duplicate id %q", i, tenant.ID)
		}
		seen[tenant.ID] = true
		if tenant.Settings == (domain.TenantSettings{}) {
			f.Tenants[i].Settings = domain.DefaultTenantSettings()
		}
	}
	return f.Tenants, nil
}
