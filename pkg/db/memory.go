package db

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process data store with the same surface as Repository. It backs the
// server when DATABASE_URL is empty and is used throughout the tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	entries  []GuestbookEntry
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// GetCounter returns the value of the named counter, or 0.
func (m *MemoryStore) GetCounter(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name], nil
}

// AddToCounter adds delta to the named counter and returns the new value.
func (m *MemoryStore) AddToCounter(_ context.Context, name string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	return m.counters[name], nil
}

// ListGuestbookEntries returns up to limit entries, newest first.
func (m *MemoryStore) ListGuestbookEntries(_ context.Context, limit int) ([]GuestbookEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GuestbookEntry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

// AddGuestbookEntry appends an entry and returns it.
func (m *MemoryStore) AddGuestbookEntry(_ context.Context, name, message string) (*GuestbookEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e := GuestbookEntry{ID: m.nextID, Name: name, Message: message, Created: m.now().UTC()}
	m.entries = append(m.entries, e)
	return &e, nil
}
