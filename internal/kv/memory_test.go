package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Get on missing key: got %v, want ErrNoKey", err)
	}

	if err := store.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "v" {
		t.Errorf("Get = %q, want %q", val, "v")
	}

	// Empty value must still be distinguishable from absence.
	if err := store.Set(ctx, "empty", "", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, "empty"); err != nil {
		t.Errorf("empty value treated as missing: %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := store.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}

	// Advance past the deadline; the key must stop existing lazily.
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNoKey) {
		t.Errorf("expired key still readable: %v", err)
	}
	if _, err := store.TTL(ctx, "k"); !errors.Is(err, ErrNoKey) {
		t.Errorf("expired key still has TTL: %v", err)
	}
}

func TestMemoryStore_IncrDecr(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Incr(ctx, "counter")
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first Incr = %d, want 1", n)
	}

	for i := 0; i < 4; i++ {
		if n, err = store.Incr(ctx, "counter"); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
	}
	if n != 5 {
		t.Errorf("after 5 increments = %d, want 5", n)
	}

	if n, err = store.Decr(ctx, "counter"); err != nil {
		t.Fatalf("Decr failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Decr = %d, want 4", n)
	}

	// Decrementing a fresh key starts from zero.
	if n, err = store.Decr(ctx, "fresh"); err != nil {
		t.Fatalf("Decr failed: %v", err)
	}
	if n != -1 {
		t.Errorf("Decr on fresh key = %d, want -1", n)
	}
}

func TestMemoryStore_Expire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	if err := store.Expire(ctx, "missing", time.Minute); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expire on missing key: got %v, want ErrNoKey", err)
	}

	if _, err := store.Incr(ctx, "counter"); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	// Counters created by Incr have no expiry until armed.
	if ttl, err := store.TTL(ctx, "counter"); err != nil || ttl != 0 {
		t.Errorf("TTL = (%v, %v), want (0, nil)", ttl, err)
	}

	if err := store.Expire(ctx, "counter", time.Hour); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "counter"); !errors.Is(err, ErrNoKey) {
		t.Errorf("counter survived armed expiry: %v", err)
	}
}

func TestMemoryStore_Del(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Del(ctx, "missing"); err != nil {
		t.Errorf("Del on missing key should be a no-op, got %v", err)
	}

	_ = store.Set(ctx, "k", "v", 0)
	if err := store.Del(ctx, "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNoKey) {
		t.Errorf("deleted key still readable: %v", err)
	}
}
