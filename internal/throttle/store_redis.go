package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "throttle:ip:"

// RedisStore implements the sliding window on a Redis sorted set keyed by
// client, scored by request time. Shared across replicas.
type RedisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisStore(client *redis.Client, limit int, window time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (s *RedisStore) Allow(ctx context.Context, key string) (*Decision, error) {
	redisKey := redisKeyPrefix + key
	now := time.Now()
	windowStart := now.Add(-s.window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	card := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("throttle window check for %q: %w", key, err)
	}

	count := int(card.Val())
	if count >= s.limit {
		return &Decision{
			Allowed:    false,
			Limit:      s.limit,
			RetryAfter: s.retryAfter(ctx, redisKey, now),
		}, nil
	}

	// Concurrent callers may both pass the check and slightly over-admit;
	// the window self-corrects on the next request.
	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("throttle record for %q: %w", key, err)
	}

	return &Decision{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - count - 1,
	}, nil
}

// retryAfter derives the wait from the oldest request still inside the
// window. Falls back to the full window if the set is gone.
func (s *RedisStore) retryAfter(ctx context.Context, redisKey string, now time.Time) time.Duration {
	oldest, err := s.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return s.window
	}
	expiresAt := time.Unix(0, int64(oldest[0].Score)).Add(s.window)
	if wait := expiresAt.Sub(now); wait > 0 {
		return wait
	}
	return time.Second
}
