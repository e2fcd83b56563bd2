package keyset

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
	"tenantgate/internal/platform/telemetry"
)

// ErrRefreshThrottled is returned by Refresh when a fetch happened less than
// the minimum refresh interval ago.
var ErrRefreshThrottled = errors.New("key set refresh throttled")

// ProviderConfig holds the provider's endpoint and freshness settings.
type ProviderConfig struct {
	URL                string
	Realm              string
	TTL                time.Duration
	MaxStaleness       time.Duration
	MinRefreshInterval time.Duration
	Retries            int
	RetryInterval      time.Duration
}

// Provider serves the current key set from the cache, falling back to a live
// fetch. A stale copy is served within MaxStaleness while the IdP is down.
type Provider struct {
	cache   *Cache
	fetcher *Fetcher
	cfg     ProviderConfig
	metrics *telemetry.GatewayMetrics
	logger  *slog.Logger
	clock   func() time.Time

	// lastFetch is the unix-nano time of the last successful or attempted
	// forced fetch in this process.
	lastFetch atomic.Int64
	// last is the most recent entry seen, used when the shared cache is down.
	last atomic.Pointer[Entry]
	// inflight collapses concurrent fetches for the realm into one IdP call.
	inflight singleflight.Group
}

// NewProvider creates a Provider. metrics may be nil.
func NewProvider(cache *Cache, fetcher *Fetcher, cfg ProviderConfig, metrics *telemetry.GatewayMetrics, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	return &Provider{
		cache:   cache,
		fetcher: fetcher,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		clock:   cache.clock,
	}
}

// KeySet returns the key set to verify against.
func (p *Provider) KeySet(ctx context.Context) (KeySet, error) {
	now := p.clock()

	var stale *Entry
	entry, err := p.cache.Get(ctx, p.cfg.Realm)
	switch {
	case err == nil && entry.Fresh(now):
		p.recordCache(ctx, "hit")
		p.last.Store(&entry)
		return entry.KeySet, nil
	case err == nil:
		p.recordCache(ctx, "expired")
		stale = &entry
	case errors.Is(err, gateway.ErrCacheMiss):
		p.recordCache(ctx, "miss")
	default:
		p.recordCache(ctx, "unavailable")
		p.logger.WarnContext(ctx, "key set cache unavailable, fetching live", "realm", p.cfg.Realm, "error", err)
		stale = p.last.Load()
	}

	ks, err := p.fetch(ctx)
	if err == nil {
		return ks, nil
	}
	if ctx.Err() != nil {
		return KeySet{}, err
	}

	if stale != nil && p.cfg.MaxStaleness > 0 && stale.StaleFor(now) <= p.cfg.MaxStaleness {
		p.recordCache(ctx, "stale")
		p.logger.WarnContext(ctx, "serving stale key set",
			"realm", p.cfg.Realm,
			"expired_for", stale.StaleFor(now).String(),
			"error", err,
		)
		return stale.KeySet, nil
	}
	return KeySet{}, err
}

// Refresh fetches the key set live, bypassing the cache. Calls closer together
// than MinRefreshInterval return ErrRefreshThrottled without fetching.
func (p *Provider) Refresh(ctx context.Context) (KeySet, error) {
	now := p.clock().UnixNano()
	prev := p.lastFetch.Load()
	if prev != 0 && time.Duration(now-prev) < p.cfg.MinRefreshInterval {
		return KeySet{}, ErrRefreshThrottled
	}
	if !p.lastFetch.CompareAndSwap(prev, now) {
		return KeySet{}, ErrRefreshThrottled
	}

	p.logger.InfoContext(ctx, "forcing key set refresh", "realm", p.cfg.Realm)
	return p.fetch(ctx)
}

// fetch joins the in-flight fetch for the realm or starts one. The shared
// fetch is detached from the caller's cancellation; a caller whose context
// ends stops waiting without failing the others.
func (p *Provider) fetch(ctx context.Context) (KeySet, error) {
	if err := ctx.Err(); err != nil {
		return KeySet{}, domain.NewError(domain.KindFetchError, "fetching key set", err)
	}
	ch := p.inflight.DoChan(p.cfg.Realm, func() (any, error) {
		return p.fetchOnce(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return KeySet{}, res.Err
		}
		return res.Val.(KeySet), nil
	case <-ctx.Done():
		return KeySet{}, domain.NewError(domain.KindFetchError, "waiting for key set fetch", ctx.Err())
	}
}

func (p *Provider) fetchOnce(ctx context.Context) (KeySet, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "keyset.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("idp.realm", p.cfg.Realm))

	var ks KeySet
	attempts := 0
	op := func() error {
		attempts++
		var err error
		ks, err = p.fetcher.Fetch(ctx, p.cfg.URL)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.RetryInterval
	eb.MaxInterval = 2 * time.Second
	retries := max(p.cfg.Retries, 0)
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	err := backoff.Retry(op, b)
	span.SetAttributes(attribute.Int("idp.fetch_attempts", attempts))
	if err != nil {
		if domain.KindOf(err) != domain.KindFetchError {
			err = domain.NewError(domain.KindFetchError, "fetching key set", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		p.recordFetch(ctx, "failure")
		p.logger.ErrorContext(ctx, "key set fetch failed",
			"realm", p.cfg.Realm,
			"attempts", attempts,
			"error", err,
		)
		return KeySet{}, err
	}

	ks.Provider = p.cfg.URL
	ks.Realm = p.cfg.Realm
	p.recordFetch(ctx, "success")
	p.lastFetch.Store(p.clock().UnixNano())

	entry, err := p.cache.Put(ctx, p.cfg.Realm, ks, p.cfg.TTL)
	p.last.Store(&entry)
	if err != nil {
		p.logger.WarnContext(ctx, "key set cache write failed", "realm", p.cfg.Realm, "error", err)
	}
	return ks, nil
}

func (p *Provider) recordCache(ctx context.Context, result string) {
	if p.metrics != nil {
		p.metrics.RecordKeySetCache(ctx, result)
	}
}

func (p *Provider) recordFetch(ctx context.Context, result string) {
	if p.metrics != nil {
		p.metrics.RecordKeySetFetch(ctx, result)
	}
}
