package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore is the single-instance fallback: one token bucket per client
// key, refilled at limit-per-window. Use RedisStore when more than one
// replica serves traffic.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    int
	window   time.Duration
}

func NewMemoryStore(limit int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		window:   window,
	}
}

func (s *MemoryStore) Allow(_ context.Context, key string) (*Decision, error) {
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.window/time.Duration(s.limit)), s.limit)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return &Decision{
			Allowed:    false,
			Limit:      s.limit,
			RetryAfter: delay,
		}, nil
	}

	return &Decision{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: int(limiter.Tokens()),
	}, nil
}
