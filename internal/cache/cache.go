// Package cache provides the TTL cache abstraction behind the
// notification rate limiter. The in-memory implementation is
// process-local; a shared cache can be swapped in behind the same
// interface for multi-instance deployments without touching call sites.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a bounded key-value store with per-entry TTL.
type Cache interface {
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration)
	Get(ctx context.Context, key string) (any, bool)
	Delete(ctx context.Context, key string)
	Len() int
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-process Cache with periodic eviction of expired
// entries. Eviction keeps the map bounded under sustained traffic.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// NewMemory creates an in-memory cache. When janitorInterval > 0 a
// background goroutine evicts expired entries until ctx is canceled.
func NewMemory(ctx context.Context, janitorInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	if janitorInterval > 0 {
		go m.janitor(ctx, janitorInterval)
	}
	return m
}

// SetWithTTL stores value under key for ttl.
func (m *Memory) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// Get returns the value for key if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Evict removes every expired entry.
func (m *Memory) Evict() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}
