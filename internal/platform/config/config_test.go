package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tenantgate/internal/platform/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GatewayAddr != ":8080" {
		t.Errorf("expected default gateway addr :8080, got %q", cfg.GatewayAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if !cfg.IdP.VerifyToken {
		t.Error("expected token verification enabled by default")
	}
	if cfg.IdP.Issuer != "http://localhost:8081/realms/tenantgate" {
		t.Errorf("expected derived issuer, got %q", cfg.IdP.Issuer)
	}
	if cfg.IdP.FetchTimeout != 30*time.Second {
		t.Errorf("expected fetch timeout 30s, got %v", cfg.IdP.FetchTimeout)
	}
	if cfg.KeySet.CacheTTL != time.Hour {
		t.Errorf("expected key cache TTL 1h, got %v", cfg.KeySet.CacheTTL)
	}
	if cfg.Tenant.RolePrefix != "tenant_" {
		t.Errorf("expected role prefix 'tenant_', got %q", cfg.Tenant.RolePrefix)
	}
	if cfg.Tenant.RolePolicy != "first" {
		t.Errorf("expected role policy 'first', got %q", cfg.Tenant.RolePolicy)
	}
	if cfg.RateLimit.ClientPerMinute != 1200 {
		t.Errorf("expected client budget 1200/min, got %d", cfg.RateLimit.ClientPerMinute)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("IDP_URL", "https://sso.example.com/")
	t.Setenv("IDP_REALM", "acme")
	t.Setenv("IDP_CLIENT_ID", "acme-api")
	t.Setenv("KEYSET_CACHE_TTL", "120")
	t.Setenv("IDP_FETCH_TIMEOUT", "5s")
	t.Setenv("TENANT_ROLE_POLICY", "strict")
	t.Setenv("CACHE_STORE", "redis")
	t.Setenv("RATE_LIMIT_PER_CLIENT", "30")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GatewayAddr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.GatewayAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected 'debug', got %q", cfg.LogLevel)
	}
	if cfg.IdP.Issuer != "https://sso.example.com/realms/acme" {
		t.Errorf("unexpected issuer %q", cfg.IdP.Issuer)
	}
	if got := cfg.IdP.CertsURL(); got != "https://sso.example.com/realms/acme/protocol/openid-connect/certs" {
		t.Errorf("unexpected certs URL %q", got)
	}
	if cfg.KeySet.CacheTTL != 120*time.Second {
		t.Errorf("expected 120s, got %v", cfg.KeySet.CacheTTL)
	}
	if cfg.IdP.FetchTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.IdP.FetchTimeout)
	}
	if cfg.Tenant.RolePolicy != "strict" {
		t.Errorf("expected strict, got %q", cfg.Tenant.RolePolicy)
	}
	if cfg.Cache.Store != "redis" {
		t.Errorf("expected redis, got %q", cfg.Cache.Store)
	}
	if cfg.RateLimit.ClientPerMinute != 30 {
		t.Errorf("expected client budget 30, got %d", cfg.RateLimit.ClientPerMinute)
	}
}

func TestExplicitIssuerWins(t *testing.T) {
	t.Setenv("IDP_ISSUER", "https://issuer.example.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdP.Issuer != "https://issuer.example.com" {
		t.Errorf("expected explicit issuer, got %q", cfg.IdP.Issuer)
	}
}

func TestLoadFromFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenantgate.yaml")
	content := `
gateway_addr: ":7070"
idp:
  url: http://idp.internal
  realm: corp
  fetch_timeout: 3s
keyset:
  max_staleness: 0s
tenant:
  store: sqlite
  sqlite_path: /tmp/tenants.db
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("TENANTGATE_CONFIG", path)
	t.Setenv("GATEWAY_ADDR", ":6060")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GatewayAddr != ":6060" {
		t.Errorf("env should override file, got %q", cfg.GatewayAddr)
	}
	if cfg.IdP.Realm != "corp" {
		t.Errorf("expected realm from file, got %q", cfg.IdP.Realm)
	}
	if cfg.IdP.FetchTimeout != 3*time.Second {
		t.Errorf("expected 3s from file, got %v", cfg.IdP.FetchTimeout)
	}
	if cfg.KeySet.MaxStaleness != 0 {
		t.Errorf("expected fail-closed staleness from file, got %v", cfg.KeySet.MaxStaleness)
	}
	if cfg.Tenant.Store != "sqlite" {
		t.Errorf("expected sqlite store, got %q", cfg.Tenant.Store)
	}
	if !cfg.IdP.VerifyToken {
		t.Error("verify_token should keep its default when the file omits it")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("TENANTGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := config.Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("IDP_FETCH_RETRIES", "many")
	t.Setenv("IDP_VERIFY_TOKEN", "perhaps")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdP.FetchRetries != 2 {
		t.Errorf("expected default retries 2, got %d", cfg.IdP.FetchRetries)
	}
	if !cfg.IdP.VerifyToken {
		t.Error("an unparseable flag must not disable verification")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults valid", func(*config.Config) {}, ""},
		{"unknown role policy", func(c *config.Config) { c.Tenant.RolePolicy = "last" }, "role_policy"},
		{"unknown tenant store", func(c *config.Config) { c.Tenant.Store = "mongo" }, "unknown store"},
		{"postgres without url", func(c *config.Config) { c.Tenant.Store = "postgres" }, "database_url"},
		{"unknown cache store", func(c *config.Config) { c.Cache.Store = "memcached" }, "cache"},
		{"short test secret", func(c *config.Config) {
			c.IdP.VerifyToken = false
			c.IdP.TestSecret = "short"
		}, "test_secret"},
		{"missing client id", func(c *config.Config) { c.IdP.ClientID = "" }, "client_id"},
		{"zero cache ttl", func(c *config.Config) { c.KeySet.CacheTTL = 0 }, "cache_ttl"},
		{"bad upstream", func(c *config.Config) { c.UpstreamURL = "not a url" }, "upstream_url"},
		{"negative client budget", func(c *config.Config) { c.RateLimit.ClientPerMinute = -1 }, "client_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTestModeConfig(t *testing.T) {
	t.Setenv("IDP_VERIFY_TOKEN", "false")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdP.VerifyToken {
		t.Error("expected test mode")
	}
	if cfg.IdP.TestSecret != config.DefaultTestSecret {
		t.Error("expected default test secret")
	}
}
