package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UserLocker serializes state transitions for one user. The returned unlock
// func is safe to call more than once.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (func(), error)
}

// LocalLocker is an in-process UserLocker for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ll, ok := l.locks[userID]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	select {
	case ll.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ll)
		return nil, fmt.Errorf("%w: %v", models.ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ll.ch
			l.release(userID, ll)
		})
	}, nil
}

func (l *LocalLocker) release(userID string, ll *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.locks, userID)
	}
}

// LockKeyPrefix is the Redis key prefix for per-user sanction locks.
const LockKeyPrefix = "lock:sanction:"

var errLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a UserLocker shared by every instance using the same Redis.
// Locks expire after ttl so a crashed holder cannot block a user forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger.Named("locker"),
	}
}

// Lock retries SET NX until it wins or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := LockKeyPrefix + userID
	token := uuid.NewString()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	), ctx)

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", models.ErrLockTimeout, userID)
		}
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", userID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release user lock",
					zap.String("userID", userID),
					zap.Error(err))
			}
		})
	}, nil
}
