package access

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "access:lock:3:9", LockKey(3, 9))
}

// exerciseMutualExclusion runs goroutines that would race on counter without the lock
func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := locker.Lock(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocalLocker())
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	releaseA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	releaseB, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	releaseA()
	releaseB()
	assert.Empty(t, l.locks)
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Empty(t, l.locks)

	release, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	release()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl, observability.NewLogger(observability.ErrorLevel, io.Discard)), mr
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Second)
	exerciseMutualExclusion(t, locker)
}

func TestRedisLocker_ReleaseDeletesKey(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)

	release, err := locker.Lock(context.Background(), "access:lock:1:2")
	require.NoError(t, err)
	assert.True(t, mr.Exists("access:lock:1:2"))

	release()
	assert.False(t, mr.Exists("access:lock:1:2"))
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)

	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	// lock expired and someone else took it
	require.NoError(t, mr.Set("k", "someone-else"))
	release()

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_ReleaseProblemsAreLogged(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	var logs bytes.Buffer
	locker.logger = observability.NewLogger(observability.WarnLevel, &logs)

	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, mr.Set("k", "someone-else"))
	release()
	assert.Contains(t, logs.String(), "Lock expired before release")

	logs.Reset()
	release, err = locker.Lock(context.Background(), "other")
	require.NoError(t, err)
	mr.Close()
	release()
	assert.Contains(t, logs.String(), "Failed to release lock")
	assert.Contains(t, logs.String(), `"lock_key":"other"`)
}

func TestRedisLocker_WaitsUntilContextDone(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Minute)

	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_ExpiredLockCanBeTaken(t *testing.T) {
	locker, mr := newRedisLocker(t, 100*time.Millisecond)

	_, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_BackendDown(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := locker.Lock(ctx, "k")
	assert.Error(t, err)
}

func TestEngine_WithRedisLocker(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Second)
	f := newFixture(t, WithLocker(locker))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []int64{f.m1.ID}
			if i%2 == 0 {
				ids = []int64{f.m2.ID}
			}
			assert.NoError(t, f.engine.SetModuleAccessForCourse(ctx, f.buyer.ID, f.course.ID, ids))
		}(i)
	}
	wg.Wait()

	ids, err := f.engine.ListModuleAccess(ctx, f.buyer.ID, f.course.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assertCachesMatchGrants(t, f)
}
