package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

// Locker serializes mutations on one (user, course) pair. Lock blocks until
// the key is held or ctx is done and returns the release func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LockKey names the lock guarding a user's grants on a course
func LockKey(userID, courseID int64) string {
	return fmt.Sprintf("access:lock:%d:%d", userID, courseID)
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a one-slot channel so waiters can also select on ctx
type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires key
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates writers across processes with SET NX PX
type RedisLocker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *observability.Logger
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed
// holder can block others.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *observability.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		logger:     logger,
		minBackoff: 5 * time.Millisecond,
		maxBackoff: 200 * time.Millisecond,
	}
}

// Lock retries with exponential backoff until the key is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	backoff := l.minBackoff

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			deleted, err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Int()
			switch {
			case err != nil:
				// the key still expires after ttl
				l.logger.WithError(err).WithField("lock_key", key).Warn("Failed to release lock")
			case deleted == 0:
				l.logger.WithField("lock_key", key).Warn("Lock expired before release")
			}
		})
	}, nil
}
