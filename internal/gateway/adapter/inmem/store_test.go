package inmem_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tenantgate/internal/gateway"
	"tenantgate/internal/gateway/adapter/inmem"
)

func TestStoreSetGet(t *testing.T) {
	s := inmem.NewStore(nil)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}
}

func TestStoreMiss(t *testing.T) {
	s := inmem.NewStore(nil)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, gateway.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestStoreExpiry(t *testing.T) {
	now := time.Now()
	s := inmem.NewStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 10*time.Second)

	now = now.Add(9 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("value should still be live: %v", err)
	}

	now = now.Add(time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, gateway.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss at expiry, got %v", err)
	}
}

func TestStoreNoTTL(t *testing.T) {
	now := time.Now()
	s := inmem.NewStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(24 * time.Hour)

	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("value without ttl should not expire: %v", err)
	}
}

func TestStoreCopiesValues(t *testing.T) {
	s := inmem.NewStore(nil)
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _ := s.Get(ctx, "k")
	got[1] = 'y'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value was mutated: %q", again)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	s := inmem.NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Set: expected context.Canceled, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get: expected context.Canceled, got %v", err)
	}
}

func TestStoreCleanup(t *testing.T) {
	now := time.Now()
	s := inmem.NewStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Set(ctx, "short", []byte("1"), time.Second)
	_ = s.Set(ctx, "long", []byte("2"), time.Hour)

	now = now.Add(time.Minute)
	s.Cleanup()

	if s.Len() != 1 {
		t.Errorf("expected 1 entry after cleanup, got %d", s.Len())
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := inmem.NewStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, fmt.Sprintf("k%d", i%5), []byte("v"), time.Minute)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, fmt.Sprintf("k%d", i%5))
		}()
	}
	wg.Wait()

	if s.Len() != 5 {
		t.Errorf("expected 5 keys, got %d", s.Len())
	}
}
