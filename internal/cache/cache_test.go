package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	val := []byte(`{"city":"paris","maxTempC":21.5}`)
	if err := c.Set(ctx, "forecast:paris:2026-08-29", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "forecast:paris:2026-08-29")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, val) {
		t.Errorf("Get() = %s, want %s", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for
// entries whose logical TTL has passed.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	if err := c.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
}

// TestInMemoryCache_GetStale_WithinMaxAge verifies that GetStale returns
// expired entries that are still within the stale window, along with their
// stored-at time.
func TestInMemoryCache_GetStale_WithinMaxAge(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	if err := c.Set(ctx, "k", []byte("stale-value"), -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, storedAt, ok, err := c.GetStale(ctx, "k", time.Hour)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if !ok {
		t.Fatal("GetStale() ok = false, want true for entry within max age")
	}
	if !bytes.Equal(got, []byte("stale-value")) {
		t.Errorf("GetStale() = %s, want stale-value", got)
	}
	if storedAt.IsZero() {
		t.Error("GetStale() storedAt is zero, want set")
	}
}

// TestInMemoryCache_GetStale_TooOld verifies that GetStale refuses entries
// older than maxAge.
func TestInMemoryCache_GetStale_TooOld(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	if err := c.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_, _, ok, err := c.GetStale(ctx, "k", time.Nanosecond)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if ok {
		t.Error("GetStale() ok = true, want false for entry beyond max age")
	}
}

// TestInMemoryCache_GetStale_Miss verifies GetStale on an absent key.
func TestInMemoryCache_GetStale_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	_, _, ok, err := c.GetStale(ctx, "nope", time.Hour)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if ok {
		t.Error("GetStale() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Set_Overwrite verifies that Set replaces an existing
// entry and resets its TTL.
func TestInMemoryCache_Set_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	if err := c.Set(ctx, "k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, "k", []byte("new"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, _ := c.Get(ctx, "k")
	if !ok || !bytes.Equal(got, []byte("new")) {
		t.Errorf("Get() = %s, ok=%v, want new, true", got, ok)
	}
}

// TestInMemoryCache_ConcurrentAccess verifies the cache is safe under
// concurrent readers and writers.
func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "shared", []byte("v"), time.Minute)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(ctx, "shared")
		}()
	}
	wg.Wait()

	_, ok, err := c.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Error("Get() ok = false after concurrent writes, want true")
	}
}
