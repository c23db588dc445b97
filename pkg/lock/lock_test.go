package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedis(client, time.Second)
	l.retry = 5 * time.Millisecond
	return l, mr
}

func lockers(t *testing.T) map[string]Locker {
	r, _ := newRedisLocker(t)
	return map[string]Locker{"local": NewLocal(), "redis": r}
}

func TestMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				inside int32
				max    int32
				wg     sync.WaitGroup
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(context.Background(), "conv:1")
					if !assert.NoError(t, err) {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&max)
						if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, max)
		})
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			u1, err := l.Lock(context.Background(), "conv:1")
			require.NoError(t, err)
			defer u1()

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			u2, err := l.Lock(ctx, "conv:2")
			require.NoError(t, err)
			u2()
		})
	}
}

func TestLockHonoursContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "conv:9")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = l.Lock(ctx, "conv:9")
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			unlock()
			unlock() // second call is a no-op
			again, err := l.Lock(context.Background(), "conv:9")
			require.NoError(t, err)
			again()
		})
	}
}

func TestLocalDropsIdleKeys(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, l.held())
	unlock()
	assert.Equal(t, 0, l.held())

	unlock, _ = l.Lock(context.Background(), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "a")
	assert.Error(t, err)
	unlock()
	assert.Equal(t, 0, l.held())
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "conv:5")
	require.NoError(t, err)

	// simulate expiry and takeover by another holder
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(l.prefix+"conv:5", "someone-else"))

	unlock()
	got, err := mr.Get(l.prefix + "conv:5")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
