package inmem

import (
	"context"
	"sync"
	"time"

	"tenantgate/internal/gateway"
)

// Store is a process-local gateway.Store with per-key expiry.
type Store struct {
	now func() time.Time

	mu    sync.Mutex
	items map[string]item
}

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewStore creates an empty store.
// clock is injectable for deterministic testing.
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		now:   clock,
		items: make(map[string]item),
	}
}

// Get returns a copy of the value stored under key, or gateway.ErrCacheMiss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return nil, gateway.ErrCacheMiss
	}
	if it.expired(s.now()) {
		delete(s.items, key)
		return nil, gateway.ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores value under key. A non-positive ttl keeps the value until overwritten.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

// Cleanup removes expired entries.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
		}
	}
}

// Len returns the number of stored entries, expired or not (for testing).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}
