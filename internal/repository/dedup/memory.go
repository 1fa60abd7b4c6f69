package dedup

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process key store with per-key expiry.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkOnce records key for ttl and reports whether it was absent.
func (m *Memory) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	// Expired keys are dropped lazily on every call.
	for k, expiresAt := range m.expires {
		if !now.Before(expiresAt) {
			delete(m.expires, k)
		}
	}

	if _, ok := m.expires[key]; ok {
		return false, nil
	}

	m.expires[key] = now.Add(ttl)

	return true, nil
}

// Len returns the number of live keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.expires)
}
