package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests with INCR and lets the key expire with the window.
// It fails open: when Redis is unreachable the request is allowed and the error returned.
type RedisLimiter struct {
	rdb       *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, keyPrefix: keyPrefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := l.keyPrefix + ":" + key

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if count == 1 {
		if err = l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - 1}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	if count > int64(l.limit) {
		ttl, err := l.rdb.TTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Result{Allowed: false, Limit: l.limit, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - int(count)}, nil
}
