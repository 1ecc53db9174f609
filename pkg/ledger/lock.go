package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes writers on one ledger. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker serializes writers inside one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	return l.mu.Unlock, nil
}

// redisReleaseScript deletes the lock only if this holder still owns it.
// KEYS[1] = lock key
// ARGV[1] = holder token
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockTimeout is returned when the Redis lock is not acquired before the
// context ends.
var ErrLockTimeout = errors.New("ledger lock not acquired")

// RedisLocker serializes writers across processes sharing one ledger.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker locks key with SET NX PX ttl, retrying every retry interval.
func NewRedisLocker(client redis.UniversalClient, key string, ttl, retry time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, retry: retry}
}

// NewRedisLockerAddr dials addr and locks "pilgrim:ledger:" + name.
func NewRedisLockerAddr(addr, password string, db int, name string) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLocker(rdb, "pilgrim:ledger:"+name, 0, 0)
}

func (r *RedisLocker) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			return func() {
				// Background context: release must run even if ctx is already done.
				_ = redisReleaseScript.Run(context.Background(), r.client, []string{r.key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(r.retry):
		}
	}
}

// chainLocker takes every locker in order and releases in reverse.
type chainLocker []Locker

func (c chainLocker) Lock(ctx context.Context) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		u, err := l.Lock(ctx)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}
