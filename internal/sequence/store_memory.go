package sequence

import (
	"context"
	"sync"
)

// MemoryStore keeps series counters in process memory. Suitable for tests and
// single-instance dev; production uses PostgresStore.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Increment(_ context.Context, series string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[series]++
	return s.counts[series], nil
}

// Current returns the last value handed out for a series. Test helper.
func (s *MemoryStore) Current(series string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[series]
}
