package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
	"tenantgate/internal/gateway/adapter/inmem"
	"tenantgate/internal/gateway/adapter/pgtenant"
	"tenantgate/internal/gateway/adapter/proxy"
	"tenantgate/internal/gateway/adapter/redisstore"
	"tenantgate/internal/gateway/adapter/sqlitetenant"
	"tenantgate/internal/gateway/identity"
	"tenantgate/internal/gateway/keyset"
	"tenantgate/internal/gateway/middleware"
	"tenantgate/internal/gateway/tenant"
	"tenantgate/internal/gateway/verifier"
	"tenantgate/internal/platform/config"
	"tenantgate/internal/platform/server"
	"tenantgate/internal/platform/telemetry"
)

var publicPaths = []string{"/healthz", "/readyz", "/metrics"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// Logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "tenantgate")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	checks := map[string]proxy.Check{}
	var closers []func()

	// Shared cache store
	var store gw.Store
	var memStore *inmem.Store
	switch cfg.Cache.Store {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Cache.RedisURL)
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		store = rs
		checks["redis"] = rs.Ping
		closers = append(closers, func() { rs.Close() })
	default:
		memStore = inmem.NewStore(time.Now)
		store = memStore
	}

	// Tenant directory
	lookup, err := openTenantStore(ctx, cfg.Tenant, checks, &closers)
	if err != nil {
		slog.Error("tenant store initialization failed", "error", err, "store", cfg.Tenant.Store)
		os.Exit(1)
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	// Key set provider
	keyCache := keyset.NewCache(store, cfg.KeySet.MaxStaleness, time.Now)
	fetcher := keyset.NewFetcher(&http.Client{}, cfg.IdP.FetchTimeout)
	provider := keyset.NewProvider(keyCache, fetcher, keyset.ProviderConfig{
		URL:                cfg.IdP.CertsURL(),
		Realm:              cfg.IdP.Realm,
		TTL:                cfg.KeySet.CacheTTL,
		MaxStaleness:       cfg.KeySet.MaxStaleness,
		MinRefreshInterval: cfg.KeySet.MinRefreshInterval,
		Retries:            cfg.IdP.FetchRetries,
	}, metrics, logger)

	// Verifier
	mode := domain.ModeProduction
	if !cfg.IdP.VerifyToken {
		mode = domain.ModeTest
		slog.Warn("token signature verification is in TEST mode; tokens are checked against a shared HS256 secret",
			"mode", mode.String(),
		)
	}
	tokenVerifier := verifier.New(provider, verifier.Config{
		Mode:       mode,
		Issuer:     cfg.IdP.Issuer,
		Audience:   cfg.IdP.ClientID,
		TestSecret: cfg.IdP.TestSecret,
		ClockSkew:  cfg.IdP.ClockSkew,
	})

	policy, err := identity.ParsePolicy(cfg.Tenant.RolePolicy)
	if err != nil {
		slog.Error("invalid tenant role policy", "error", err)
		os.Exit(1)
	}
	extractor := identity.NewExtractor(cfg.Tenant.RolePrefix, policy)
	resolver := tenant.NewResolver(tenant.NewCachedLookup(lookup, store, cfg.Tenant.CacheTTL, metrics), metrics)

	// Rate limiter
	rl := inmem.NewRateLimiter(time.Now)

	// Router
	router, err := proxy.NewRouter(cfg.UpstreamURL, cfg.RequestTimeout, checks, metrics)
	if err != nil {
		slog.Error("router initialization failed", "error", err)
		os.Exit(1)
	}

	// Assemble middleware chain
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics, publicPaths...),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(cfg.MaxBodyBytes),
		middleware.Except(publicPaths, middleware.ClientRateLimit(rl, cfg.RateLimit.ClientPerMinute, metrics)),
		middleware.Gateway(middleware.GatewayConfig{
			Verifier:    tokenVerifier,
			Extractor:   extractor,
			Resolver:    resolver,
			PublicPaths: publicPaths,
			Metrics:     metrics,
			Logger:      logger,
		}),
		middleware.Except(publicPaths, middleware.RateLimit(rl, cfg.RateLimit.DefaultPerMinute, metrics)),
	))

	srv := server.New(cfg.GatewayAddr, mux)
	srv.Every("ratelimit-cleanup", 5*time.Minute, func(context.Context) { rl.Cleanup() })
	if memStore != nil {
		srv.Every("store-cleanup", time.Minute, func(context.Context) { memStore.Cleanup() })
	}

	slog.Info("gateway starting",
		"addr", cfg.GatewayAddr,
		"upstream_url", cfg.UpstreamURL,
		"idp", cfg.IdP,
		"mode", mode.String(),
		"cache_store", cfg.Cache.Store,
		"tenant_store", cfg.Tenant.Store,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}

// openTenantStore builds the configured tenant directory and seeds it from
// the seed file when one is set. Readiness checks and close hooks for
// database-backed stores are registered on checks and closers.
func openTenantStore(ctx context.Context, cfg config.TenantConfig, checks map[string]proxy.Check, closers *[]func()) (gw.TenantLookup, error) {
	var seed []domain.Tenant
	if cfg.SeedFile != "" {
		tenants, err := inmem.LoadTenantsFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = tenants
	}

	switch cfg.Store {
	case "postgres":
		pg, err := pgtenant.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, pg.Close)
		checks["postgres"] = pg.Ping
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		for _, t := range seed {
			if err := pg.Upsert(ctx, t); err != nil {
				return nil, err
			}
		}
		return pg, nil

	case "sqlite":
		sq, err := sqlitetenant.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { sq.Close() })
		checks["sqlite"] = sq.Ping
		for _, t := range seed {
			if err := sq.Upsert(ctx, t); err != nil {
				return nil, err
			}
		}
		return sq, nil

	case "memory":
		if len(seed) == 0 {
			slog.Warn("memory tenant store has no tenants; set TENANT_SEED_FILE")
		}
		return inmem.NewTenants(seed...), nil

	default:
		return nil, fmt.Errorf("unknown tenant store %q", cfg.Store)
	}
}
