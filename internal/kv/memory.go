package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Expiry is lazy: a key past its deadline simply stops existing on the next
// access, matching the cooperative TTL semantics consumers rely on.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value    string
	deadline time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test-only; lets TTL expiry be
// exercised without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry at key if present and unexpired, pruning it
// otherwise. Caller must hold the lock.
func (s *MemoryStore) live(key string) *memoryEntry {
	ent, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !ent.deadline.IsZero() && !s.now().Before(ent.deadline) {
		delete(s.entries, key)
		return nil
	}
	return ent
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key)
	if ent == nil {
		return "", ErrNoKey
	}
	return ent.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := &memoryEntry{value: value}
	if ttl > 0 {
		ent.deadline = s.now().Add(ttl)
	}
	s.entries[key] = ent
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	return s.add(key, 1)
}

func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	return s.add(key, -1)
}

func (s *MemoryStore) add(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key)
	if ent == nil {
		ent = &memoryEntry{}
		s.entries[key] = ent
	}

	n, err := strconv.ParseInt(ent.value, 10, 64)
	if err != nil && ent.value != "" {
		return 0, err
	}
	n += delta
	ent.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key)
	if ent == nil {
		return 0, ErrNoKey
	}
	if ent.deadline.IsZero() {
		return 0, nil
	}
	return ent.deadline.Sub(s.now()), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key)
	if ent == nil {
		return ErrNoKey
	}
	if ttl <= 0 {
		ent.deadline = time.Time{}
		return nil
	}
	ent.deadline = s.now().Add(ttl)
	return nil
}
