package safe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/stationledger/internal/shared"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Second)
	locker.wait = 50 * time.Millisecond
	locker.backoff = 5 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, mr.Exists(shared.SafeLockKey(9)))

	_, err = locker.Lock(context.Background(), 9)
	require.ErrorIs(t, err, ErrLockTimeout)

	other, err := locker.Lock(context.Background(), 10)
	require.NoError(t, err)
	other()

	unlock()
	require.False(t, mr.Exists(shared.SafeLockKey(9)))

	again, err := locker.Lock(context.Background(), 9)
	require.NoError(t, err)
	again()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Second)
	unlock, err := locker.Lock(context.Background(), 3)
	require.NoError(t, err)

	// Another holder took over after expiry.
	require.NoError(t, mr.Set(shared.SafeLockKey(3), "someone-else"))
	unlock()

	got, err := mr.Get(shared.SafeLockKey(3))
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestNilRedisLockerIsNoop(t *testing.T) {
	var locker *RedisLocker
	require.Nil(t, NewRedisLocker(nil, time.Second))
	unlock, err := locker.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlock()
}
