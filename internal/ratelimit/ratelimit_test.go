package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, _ = limiter.Allow(ctx, "ip:1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	now = now.Add(10 * time.Second)
	res, _ = limiter.Allow(ctx, "ip:1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	res, _ = limiter.Allow(ctx, "ip:2")
	assert.True(t, res.Allowed, "keys are limited independently")

	now = now.Add(time.Minute)
	res, _ = limiter.Allow(ctx, "ip:1")
	assert.True(t, res.Allowed, "a new window starts after expiry")
}

func TestMemoryLimiterEvictsExpiredKeys(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(5, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, limiter.Len())

	now = now.Add(2 * time.Minute)
	_, err := limiter.Allow(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.Len())
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	limiter := NewRedisLimiter(rdb, 1, time.Minute, "")
	res, err := limiter.Allow(context.Background(), "ip:1")
	require.Error(t, err)
	assert.True(t, res.Allowed)
}
