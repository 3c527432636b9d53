package safe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fuelops/stationledger/internal/shared"
)

// Locker serialises postings to a safe across processes.
type Locker interface {
	Lock(ctx context.Context, stationID int64) (unlock func(), err error)
}

// keyedMutex serialises postings per station inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedMutex) lock(stationID int64) func() {
	k.mu.Lock()
	m, ok := k.locks[stationID]
	if !ok {
		m = &sync.Mutex{}
		k.locks[stationID] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ErrLockTimeout indicates the distributed safe lock could not be acquired in time.
var ErrLockTimeout = errors.New("safe: lock wait timed out")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds a token lock in redis per station.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

// NewRedisLocker builds a locker. A nil client yields nil so callers fall back to the in-process lock.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: ttl, backoff: 25 * time.Millisecond}
}

// Lock blocks until the station lock is held or the wait budget is exhausted.
func (l *RedisLocker) Lock(ctx context.Context, stationID int64) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	key := shared.SafeLockKey(stationID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}
