// Package redisstore implements gateway.Store on top of Redis so that every
// gateway instance shares cached key sets and tenant records.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	gw "tenantgate/internal/gateway"
)

// Cmdable is the subset of the go-redis API the store uses. It is satisfied
// by *redis.Client and by mocks in tests.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

var _ Cmdable = (*redis.Client)(nil)

// Store is a Redis-backed gateway.Store.
type Store struct {
	rdb    Cmdable
	closer func() error
}

// New connects to the Redis server at url (redis://[:password@]host:port/db)
// and verifies the connection with a PING.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	s := &Store{rdb: client, closer: client.Close}
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb Cmdable) *Store {
	return &Store{rdb: rdb}
}

// Get returns the stored bytes for key, or gw.ErrCacheMiss if the key is
// absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gw.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key. A ttl of zero or less stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the server is reachable. It backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection pool when the store owns it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
