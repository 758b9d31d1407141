package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLock(t *testing.T) (*Lock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, time.Minute), mr
}

func TestAcquireAndRelease(t *testing.T) {
	lock, mr := setupLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "billing:2024-03:client:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("deskledger:lock:billing:2024-03:client:1"))
	assert.Equal(t, time.Minute, mr.TTL("deskledger:lock:billing:2024-03:client:1"))

	_, err = lock.Acquire(ctx, "billing:2024-03:client:1")
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("deskledger:lock:billing:2024-03:client:1"))

	_, err = lock.Acquire(ctx, "billing:2024-03:client:1")
	assert.NoError(t, err)
}

func TestReleaseKeepsAnotherHoldersLease(t *testing.T) {
	lock, mr := setupLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "k")
	require.NoError(t, err)

	// our lease expired and someone else took the key
	mr.FastForward(2 * time.Minute)
	_, err = lock.Acquire(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("deskledger:lock:k"))
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Dial(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = Dial(context.Background(), "not-a-url")
	assert.Error(t, err)
}
