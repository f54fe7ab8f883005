package identity

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero for session entries
}

// MemoryStore is an in-memory implementation of [Store].
//
// Expired entries are dropped lazily on read. The clock is injectable so
// tests can move time forward without sleeping.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty [MemoryStore] using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty [MemoryStore] that reads time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get returns the stored value, or [ErrNotFound] if absent or expired.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		// re-check under the write lock; a concurrent Set may have refreshed it
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set stores value under key. A ttl of zero or less makes the entry session-scoped.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes key if present.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// EndSession drops all session-scoped entries.
func (m *MemoryStore) EndSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if e.expiresAt.IsZero() {
			delete(m.entries, k)
		}
	}
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
