// Package lock serializes work per key across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLockBusy is returned when the lock is held elsewhere after all retries.
	ErrLockBusy     = errors.New("lock is held by another request")
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
)

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DuesKey is the lock key guarding plan creation for one dues balance.
func DuesKey(duesID string) string {
	return "lock:dues:" + duesID
}

// PlanKey is the lock key guarding charge submission for one plan.
func PlanKey(planID string) string {
	return "lock:plan:" + planID
}

type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      20,
		RetryDelay: 250 * time.Millisecond,
	}
}

// RedisLocker is a redsync-backed Locker.
type RedisLocker struct {
	redsync *redsync.Redsync
	opts    Options
	logger  logrus.FieldLogger
}

func NewRedisLocker(client redis.UniversalClient, opts Options, logger logrus.FieldLogger) *RedisLocker {
	pool := goredis.NewPool(client)
	return &RedisLocker{
		redsync: redsync.New(pool),
		opts:    opts,
		logger:  logger,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	mutex := l.redsync.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			return fmt.Errorf("%w: %s", ErrLockBusy, key)
		}
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		// The caller's context may already be done; release with a fresh one.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.WithError(err).WithField("lock_key", key).Warn("failed to release lock")
		}
	}()

	return fn(ctx)
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	entry := l.acquireEntry(key)
	defer l.releaseEntry(key, entry)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
	}
	defer func() { <-entry.sem }()

	return fn(ctx)
}

func (l *LocalLocker) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) releaseEntry(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
