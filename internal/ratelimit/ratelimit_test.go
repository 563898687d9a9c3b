package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, third.RetryAfter, time.Minute)

	other, err := limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	mr.FastForward(time.Minute)

	again, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, again.Allowed)
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err := NewRedisLimiter(client, 1, time.Minute).Allow(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestLocalLimiter_Allow(t *testing.T) {
	limiter := NewLocalLimiter(1, time.Minute)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	d, _ := limiter.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)

	d, _ = limiter.Allow(context.Background(), "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	now = now.Add(time.Minute)
	d, _ = limiter.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)
}
