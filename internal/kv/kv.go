// Package kv provides the key-value store primitives behind rate limiting
// and mute state: atomic counters, per-key TTL expiry, and get/set/delete.
// Absence of a key is reported as ErrNoKey, distinct from an empty value.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNoKey is returned by Get and TTL when the key does not exist or its
// TTL already elapsed. Consumers must treat absence as "reset", not as a
// store failure.
var ErrNoKey = errors.New("kv: key does not exist")

// Store is the narrow contract every limiter and registry runs against.
// Incr and Decr are atomic; Set with a positive ttl arms per-key expiry.
type Store interface {
	// Get returns the value at key, or ErrNoKey.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer at key, creating it at 1,
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the integer at key, creating it at -1,
	// and returns the new value.
	Decr(ctx context.Context, key string) (int64, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// TTL returns the remaining lifetime of key, ErrNoKey if the key is
	// missing, or zero duration when the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire arms or rearms expiry on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
