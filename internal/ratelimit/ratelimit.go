// Package ratelimit limits payment-mutating requests per caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter keeps window counters in Redis so every instance shares them.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := keyPrefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis incr: %w", err)
	}

	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis pttl: %w", err)
	}

	// A counter without expiry would block the key forever.
	if count == 1 || ttl < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis pexpire: %w", err)
		}
		ttl = l.window
	}

	return decide(int(count), l.limit, ttl), nil
}

func decide(count, limit int, ttl time.Duration) Decision {
	if count > limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}
	}
	return Decision{Allowed: true, Remaining: limit - count}
}

// LocalLimiter is an in-process Limiter used when Redis is not configured.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]localWindow),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = localWindow{resetAt: now.Add(l.window)}
		l.pruneLocked(now)
	}
	w.count++
	l.windows[key] = w

	return decide(w.count, l.limit, w.resetAt.Sub(now)), nil
}

func (l *LocalLimiter) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
