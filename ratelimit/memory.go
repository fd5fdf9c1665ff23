package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStorage is the in-process default backend.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type MemoryOption func(*MemoryStorage)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) Get(ctx context.Context, key string) (int64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return 0, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStorage) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		e = &memoryEntry{expiresAt: s.now().Add(ttl)}
		s.entries[key] = e
	}
	e.value++
	return e.value, nil
}

func (s *MemoryStorage) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(key); ok {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// live returns the entry if present and not expired, pruning it otherwise.
// Caller must hold the lock.
func (s *MemoryStorage) live(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

var _ Storage = (*MemoryStorage)(nil)
