package domain

// Tenant is a customer boundary. The gateway only reads tenants.
type Tenant struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Domain   string         `json:"domain" yaml:"domain"`
	IsActive bool           `json:"is_active" yaml:"is_active"`
	Settings TenantSettings `json:"settings" yaml:"settings"`
}

// TenantSettings holds per-tenant limits and feature flags.
type TenantSettings struct {
	MaxUsers     int            `json:"max_users" yaml:"max_users"`
	StorageLimit int64          `json:"storage_limit" yaml:"storage_limit"`
	APIRateLimit int            `json:"api_rate_limit" yaml:"api_rate_limit"` // requests per minute, 0 = default
	Features     TenantFeatures `json:"features" yaml:"features"`
}

// TenantFeatures toggles optional capabilities for a tenant.
type TenantFeatures struct {
	AdvancedSecurity bool `json:"advanced_security" yaml:"advanced_security"`
	CustomBranding   bool `json:"custom_branding" yaml:"custom_branding"`
	APIAccess        bool `json:"api_access" yaml:"api_access"`
	AuditLogging     bool `json:"audit_logging" yaml:"audit_logging"`
}

// DefaultTenantSettings mirrors the defaults new tenants are provisioned with.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		MaxUsers:     100,
		StorageLimit: 1 << 30,
		APIRateLimit: 1000,
		Features: TenantFeatures{
			APIAccess: true,
		},
	}
}
