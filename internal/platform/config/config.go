package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTestSecret signs and verifies tokens when signature verification is
// switched to test mode. It is only honoured when IDP_VERIFY_TOKEN=false.
const DefaultTestSecret = "tenantgate_test_key_do_not_use_in_production"

// Config holds all configuration for the gateway process. It is built once in
// main and handed to constructors; nothing reads it from package state.
type Config struct {
	GatewayAddr    string          `yaml:"gateway_addr"`
	UpstreamURL    string          `yaml:"upstream_url"`
	LogLevel       string          `yaml:"log_level"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	IdP            IdPConfig       `yaml:"idp"`
	KeySet         KeySetConfig    `yaml:"keyset"`
	Tenant         TenantConfig    `yaml:"tenant"`
	Cache          CacheConfig     `yaml:"cache"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// IdPConfig describes the identity provider the gateway trusts.
type IdPConfig struct {
	URL      string `yaml:"url"`
	Realm    string `yaml:"realm"`
	ClientID string `yaml:"client_id"` // expected audience
	Issuer   string `yaml:"issuer"`    // defaults to {url}/realms/{realm}

	// VerifyToken=false switches to the HS256 test mode. Only deployment
	// configuration can set it.
	VerifyToken bool   `yaml:"verify_token"`
	TestSecret  string `yaml:"test_secret"`

	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRetries int           `yaml:"fetch_retries"`
	ClockSkew    time.Duration `yaml:"clock_skew"`
}

// CertsURL is the JWKS endpoint of the configured realm.
func (c IdPConfig) CertsURL() string {
	return strings.TrimRight(c.URL, "/") + "/realms/" + c.Realm + "/protocol/openid-connect/certs"
}

// KeySetConfig controls key set caching.
type KeySetConfig struct {
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	MaxStaleness       time.Duration `yaml:"max_staleness"`
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
}

// TenantConfig controls tenant derivation and lookup.
type TenantConfig struct {
	RolePrefix  string        `yaml:"role_prefix"`
	RolePolicy  string        `yaml:"role_policy"` // first | strict
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Store       string        `yaml:"store"` // postgres | sqlite | memory
	DatabaseURL string        `yaml:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path"`
	SeedFile    string        `yaml:"seed_file"`
}

// CacheConfig selects the shared cache store.
type CacheConfig struct {
	Store    string `yaml:"store"` // redis | memory
	RedisURL string `yaml:"redis_url"`
}

// RateLimitConfig holds the request budgets. DefaultPerMinute applies to a
// tenant with no api_rate_limit of its own; ClientPerMinute caps each client
// IP before authentication. Zero disables the client layer.
type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"default_per_minute"`
	ClientPerMinute  int `yaml:"client_per_minute"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GatewayAddr:    ":8080",
		UpstreamURL:    "http://localhost:8090",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
		MaxBodyBytes:   1 << 20,
		IdP: IdPConfig{
			URL:          "http://localhost:8081",
			Realm:        "tenantgate",
			ClientID:     "tenantgate-backend",
			VerifyToken:  true,
			TestSecret:   DefaultTestSecret,
			FetchTimeout: 30 * time.Second,
			FetchRetries: 2,
		},
		KeySet: KeySetConfig{
			CacheTTL:           time.Hour,
			MaxStaleness:       5 * time.Minute,
			MinRefreshInterval: 30 * time.Second,
		},
		Tenant: TenantConfig{
			RolePrefix: "tenant_",
			RolePolicy: "first",
			CacheTTL:   time.Minute,
			Store:      "memory",
			SQLitePath: "tenantgate.db",
		},
		Cache: CacheConfig{
			Store:    "memory",
			RedisURL: "redis://localhost:6379/0",
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 600,
			ClientPerMinute:  1200,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// TENANTGATE_CONFIG (if any), then environment variables. The result is
// validated.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TENANTGATE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.IdP.Issuer == "" {
		cfg.IdP.Issuer = strings.TrimRight(cfg.IdP.URL, "/") + "/realms/" + cfg.IdP.Realm
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.GatewayAddr = envOr("GATEWAY_ADDR", cfg.GatewayAddr)
	cfg.UpstreamURL = envOr("UPSTREAM_URL", cfg.UpstreamURL)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxBodyBytes = int64(envInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))

	cfg.IdP.URL = envOr("IDP_URL", cfg.IdP.URL)
	cfg.IdP.Realm = envOr("IDP_REALM", cfg.IdP.Realm)
	cfg.IdP.ClientID = envOr("IDP_CLIENT_ID", cfg.IdP.ClientID)
	cfg.IdP.Issuer = envOr("IDP_ISSUER", cfg.IdP.Issuer)
	cfg.IdP.VerifyToken = envBool("IDP_VERIFY_TOKEN", cfg.IdP.VerifyToken)
	cfg.IdP.TestSecret = envOr("IDP_TEST_SECRET", cfg.IdP.TestSecret)
	cfg.IdP.FetchTimeout = envDuration("IDP_FETCH_TIMEOUT", cfg.IdP.FetchTimeout)
	cfg.IdP.FetchRetries = envInt("IDP_FETCH_RETRIES", cfg.IdP.FetchRetries)
	cfg.IdP.ClockSkew = envDuration("AUTH_CLOCK_SKEW", cfg.IdP.ClockSkew)

	cfg.KeySet.CacheTTL = envSeconds("KEYSET_CACHE_TTL", cfg.KeySet.CacheTTL)
	cfg.KeySet.MaxStaleness = envDuration("KEYSET_MAX_STALENESS", cfg.KeySet.MaxStaleness)
	cfg.KeySet.MinRefreshInterval = envDuration("KEYSET_MIN_REFRESH_INTERVAL", cfg.KeySet.MinRefreshInterval)

	cfg.Tenant.RolePrefix = envOr("TENANT_ROLE_PREFIX", cfg.Tenant.RolePrefix)
	cfg.Tenant.RolePolicy = envOr("TENANT_ROLE_POLICY", cfg.Tenant.RolePolicy)
	cfg.Tenant.CacheTTL = envDuration("TENANT_CACHE_TTL", cfg.Tenant.CacheTTL)
	cfg.Tenant.Store = envOr("TENANT_STORE", cfg.Tenant.Store)
	cfg.Tenant.DatabaseURL = envOr("DATABASE_URL", cfg.Tenant.DatabaseURL)
	cfg.Tenant.SQLitePath = envOr("SQLITE_PATH", cfg.Tenant.SQLitePath)
	cfg.Tenant.SeedFile = envOr("TENANT_SEED_FILE", cfg.Tenant.SeedFile)

	cfg.Cache.Store = envOr("CACHE_STORE", cfg.Cache.Store)
	cfg.Cache.RedisURL = envOr("REDIS_URL", cfg.Cache.RedisURL)

	cfg.RateLimit.DefaultPerMinute = envInt("RATE_LIMIT_DEFAULT", cfg.RateLimit.DefaultPerMinute)
	cfg.RateLimit.ClientPerMinute = envInt("RATE_LIMIT_PER_CLIENT", cfg.RateLimit.ClientPerMinute)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.UpstreamURL); err != nil {
		errs = append(errs, fmt.Errorf("upstream_url: %w", err))
	}
	if c.IdP.VerifyToken {
		if c.IdP.URL == "" || c.IdP.Realm == "" {
			errs = append(errs, errors.New("idp: url and realm are required when verify_token is enabled"))
		}
		if c.IdP.ClientID == "" {
			errs = append(errs, errors.New("idp: client_id is required when verify_token is enabled"))
		}
	} else if len(c.IdP.TestSecret) < 32 {
		errs = append(errs, errors.New("idp: test_secret must be at least 32 bytes"))
	}
	if c.IdP.FetchTimeout <= 0 {
		errs = append(errs, errors.New("idp: fetch_timeout must be positive"))
	}
	if c.IdP.FetchRetries < 0 {
		errs = append(errs, errors.New("idp: fetch_retries must not be negative"))
	}
	if c.KeySet.CacheTTL <= 0 {
		errs = append(errs, errors.New("keyset: cache_ttl must be positive"))
	}
	if c.KeySet.MaxStaleness < 0 {
		errs = append(errs, errors.New("keyset: max_staleness must not be negative"))
	}
	if c.RateLimit.ClientPerMinute < 0 {
		errs = append(errs, errors.New("ratelimit: client_per_minute must not be negative"))
	}
	switch c.Tenant.RolePolicy {
	case "first", "strict":
	default:
		errs = append(errs, fmt.Errorf("tenant: unknown role_policy %q", c.Tenant.RolePolicy))
	}
	switch c.Tenant.Store {
	case "memory":
	case "postgres":
		if c.Tenant.DatabaseURL == "" {
			errs = append(errs, errors.New("tenant: database_url is required for the postgres store"))
		}
	case "sqlite":
		if c.Tenant.SQLitePath == "" {
			errs = append(errs, errors.New("tenant: sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("tenant: unknown store %q", c.Tenant.Store))
	}
	switch c.Cache.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache: unknown store %q", c.Cache.Store))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LogValue keeps the test secret out of logs.
func (c IdPConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", c.URL),
		slog.String("realm", c.Realm),
		slog.String("client_id", c.ClientID),
		slog.String("issuer", c.Issuer),
		slog.Bool("verify_token", c.VerifyToken),
		slog.Duration("fetch_timeout", c.FetchTimeout),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

// envSeconds accepts a plain number of seconds or a Go duration string.
func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		return envDuration(key, fallback)
	}
	return fallback
}
