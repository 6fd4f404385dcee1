package automation

import (
	"context"
	"sync"
)

// CursorStore hands out round-robin indexes. Next must advance the counter
// for a key atomically: two concurrent calls for the same key never observe
// the same index, so every team member is picked before any repeats.
type CursorStore interface {
	Next(ctx context.Context, key string, size int) (int, error)
}

// MemoryCursorStore keeps cursors in-process behind a mutex. Suitable for a
// single instance; multi-instance deployments share a RedisCursorStore.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewMemoryCursorStore creates an empty in-process cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]int)}
}

// Next returns the current index for the key modulo size and advances the
// cursor, wrapping so call N+1 over a size-N ring repeats call 1.
func (s *MemoryCursorStore) Next(_ context.Context, key string, size int) (int, error) {
	if size <= 0 {
		return 0, ErrEmptyRing
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.cursors[key] % size
	s.cursors[key] = (s.cursors[key] + 1) % size
	return idx, nil
}
