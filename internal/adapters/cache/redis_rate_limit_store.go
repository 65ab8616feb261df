package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore counts requests per key in fixed windows.
type RedisRateLimitStore struct {
	client *redis.Client
	nowFn  func() time.Time
}

func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, nowFn: time.Now}
}

// Allow increments the counter of the current window and reports whether it is
// still within limit. The window key expires on its own once the window closes.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	redisKey := rateLimitKey(key, s.nowFn(), window)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

func rateLimitKey(key string, now time.Time, window time.Duration) string {
	bucket := now.UnixNano() / int64(window)
	return keyPrefix + "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)
}
