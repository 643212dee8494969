package guard

import (
	"context"
	"sync"
)

// CounterStore is an atomic named counter. Add applies delta (which
// may be negative) and returns the new total; a zero delta reads the
// counter. Implementations must be safe for concurrent use.
type CounterStore interface {
	Add(ctx context.Context, key string, delta int64) (int64, error)
}

// MemoryStore is a process-local CounterStore for single-instance
// wallets and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

// Add implements CounterStore.
func (s *MemoryStore) Add(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}
