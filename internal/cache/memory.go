package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Cache for deployments without Redis. Expired
// entries are dropped lazily on lookup.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.payload, true
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultPredictionTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: m.now().Add(ttl),
	}
}

// Enabled implements Cache. The in-process cache is always reachable.
func (m *Memory) Enabled() bool { return true }

// Len reports how many entries are held, counting expired ones not yet
// collected.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
