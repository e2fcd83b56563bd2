package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
)

// Entry is the cached form of a key set. Expiry travels with the value so a
// reader can tell fresh from stale without asking the store.
type Entry struct {
	KeySet    KeySet    `json:"key_set"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// StaleFor reports how long past expiry the entry is at now.
// It is zero or negative for a fresh entry.
func (e Entry) StaleFor(now time.Time) time.Duration {
	return now.Sub(e.ExpiresAt)
}

// Cache stores key sets in a shared gateway.Store under idp:jwks:{realm}.
type Cache struct {
	store        gateway.Store
	maxStaleness time.Duration
	clock        func() time.Time
}

// NewCache creates a Cache. Entries are kept in the store for
// ttl+maxStaleness so a stale copy outlives its logical expiry.
// If clock is nil, time.Now is used.
func NewCache(store gateway.Store, maxStaleness time.Duration, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{store: store, maxStaleness: maxStaleness, clock: clock}
}

// Key returns the store key for realm.
func Key(realm string) string {
	return "idp:jwks:" + realm
}

// Get returns the cached entry for realm. A missing or undecodable value
// is reported as gateway.ErrCacheMiss; a failing store as KindCacheUnavailable.
func (c *Cache) Get(ctx context.Context, realm string) (Entry, error) {
	raw, err := c.store.Get(ctx, Key(realm))
	if errors.Is(err, gateway.ErrCacheMiss) {
		return Entry{}, gateway.ErrCacheMiss
	}
	if err != nil {
		return Entry{}, domain.NewError(domain.KindCacheUnavailable, "reading key set cache", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("discarding undecodable cached key set", "realm", realm, "error", err)
		return Entry{}, gateway.ErrCacheMiss
	}
	return e, nil
}

// Put stores ks for realm, fresh for ttl from now.
func (c *Cache) Put(ctx context.Context, realm string, ks KeySet, ttl time.Duration) (Entry, error) {
	now := c.clock()
	e := Entry{KeySet: ks, FetchedAt: now, ExpiresAt: now.Add(ttl)}

	raw, err := json.Marshal(e)
	if err != nil {
		return e, domain.NewError(domain.KindCacheUnavailable, "encoding key set", err)
	}
	if err := c.store.Set(ctx, Key(realm), raw, ttl+c.maxStaleness); err != nil {
		return e, domain.NewError(domain.KindCacheUnavailable, "writing key set cache", err)
	}
	return e, nil
}
