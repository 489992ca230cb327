// memory.go: In-process Store for tests and single-instance deployments
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with process-local state. It offers the same
// atomicity guarantees as RedisStore (a single mutex stands in for Lua), but
// no cross-instance coordination.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string][]int64 // sorted entry timestamps, unix nanos
	behavior map[string]*memBehavior
	blocks   map[string]time.Time // key -> expiry
}

type memBehavior struct {
	stats   BehaviorStats
	expires time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:  make(map[string][]int64),
		behavior: make(map[string]*memBehavior),
		blocks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) RecordWindow(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := pruneEntries(s.windows[key], now, window)
	entries = append(entries, now.UnixNano())
	s.windows[key] = entries
	return int64(len(entries)), nil
}

func (s *MemoryStore) CountWindow(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(pruneEntries(s.windows[key], now, window))), nil
}

func (s *MemoryStore) UpdateBehavior(_ context.Context, key string, success, authFailure bool, at time.Time, rapidInterval, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.behavior[key]
	if b == nil || !b.expires.After(at) {
		b = &memBehavior{}
		s.behavior[key] = b
	}
	if success {
		b.stats.Successes++
	} else {
		b.stats.Failures++
	}
	if authFailure {
		b.stats.FailedAuthAttempts++
	}
	if !b.stats.LastRequest.IsZero() && at.Sub(b.stats.LastRequest) < rapidInterval {
		b.stats.RapidRequests++
	}
	b.stats.LastRequest = at
	b.expires = at.Add(ttl)
	return nil
}

func (s *MemoryStore) GetBehavior(_ context.Context, key string) (BehaviorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.behavior[key]
	if b == nil || !b.expires.After(time.Now()) {
		return BehaviorStats{}, nil
	}
	return b.stats, nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.blocks[key]; ok && exp.After(time.Now()) {
		return false, nil
	}
	s.blocks[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.blocks[key]
	if !ok {
		return 0, false, nil
	}
	remaining := time.Until(exp)
	if remaining <= 0 {
		delete(s.blocks, key)
		return 0, false, nil
	}
	return remaining, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.windows, key)
		delete(s.behavior, key)
		delete(s.blocks, key)
	}
	return nil
}

func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.windows {
		if strings.HasPrefix(key, prefix) {
			delete(s.windows, key)
		}
	}
	for key := range s.behavior {
		if strings.HasPrefix(key, prefix) {
			delete(s.behavior, key)
		}
	}
	for key := range s.blocks {
		if strings.HasPrefix(key, prefix) {
			delete(s.blocks, key)
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func pruneEntries(entries []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixNano()
	idx := 0
	for idx < len(entries) && entries[idx] <= cutoff {
		idx++
	}
	return entries[idx:]
}
