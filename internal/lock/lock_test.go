package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/pkg/logger"
)

func newTestRedisLocker(t *testing.T, opts Options) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLocker(client, opts, logger.Discard()), mr
}

func TestRedisLocker_WithLock(t *testing.T) {
	locker, mr := newTestRedisLocker(t, DefaultOptions())

	var held bool
	err := locker.WithLock(context.Background(), DuesKey("d1"), func(ctx context.Context) error {
		held = mr.Exists(DuesKey("d1"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, held)
	assert.False(t, mr.Exists(DuesKey("d1")))
}

func TestRedisLocker_BusyWhenHeld(t *testing.T) {
	locker, mr := newTestRedisLocker(t, Options{Expiry: time.Minute, Tries: 2, RetryDelay: 10 * time.Millisecond})

	require.NoError(t, mr.Set(DuesKey("d1"), "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), DuesKey("d1"), func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockBusy)
	assert.False(t, called)
}

func TestRedisLocker_ReturnsFnError(t *testing.T) {
	locker, _ := newTestRedisLocker(t, DefaultOptions())
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), PlanKey("p1"), func(ctx context.Context) error {
		return boom
	})

	assert.Same(t, boom, err)
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), DuesKey("d1"), func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, locker.locks)
}

func TestLocalLocker_HonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release := make(chan struct{})
	acquired := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), DuesKey("d1"), func(ctx context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, DuesKey("d1"), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
