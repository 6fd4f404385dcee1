package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCursorTTL bounds how long an idle team cursor survives. A fresh
// counter just restarts the rotation from the first member.
const DefaultCursorTTL = time.Hour

// RedisCursorStore shares round-robin cursors across instances through a
// redis counter. INCR is atomic server-side, so concurrent assignments for
// the same team never observe the same index.
type RedisCursorStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCursorStore wraps a redis client. A non-positive ttl falls back to
// DefaultCursorTTL.
func NewRedisCursorStore(client *redis.Client, ttl time.Duration) *RedisCursorStore {
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	return &RedisCursorStore{client: client, prefix: "automation:cursor:", ttl: ttl}
}

// Next advances the shared counter and maps it onto the ring.
func (s *RedisCursorStore) Next(ctx context.Context, key string, size int) (int, error) {
	if size <= 0 {
		return 0, ErrEmptyRing
	}
	redisKey := s.prefix + key
	val, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("advance cursor %s: %w", key, err)
	}
	s.client.Expire(ctx, redisKey, s.ttl)
	return int((val - 1) % int64(size)), nil
}
