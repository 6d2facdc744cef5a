package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryClaimStore()
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	ok, err := store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.TryClaim(ctx, "k", time.Minute)
	assert.False(t, ok, "held claim")

	require.NoError(t, store.Release(ctx, "k"))
	ok, _ = store.TryClaim(ctx, "k", time.Minute)
	assert.True(t, ok, "released claim")

	now = now.Add(2 * time.Minute)
	ok, _ = store.TryClaim(ctx, "k", time.Minute)
	assert.True(t, ok, "expired claim")
}

func TestClaimKey(t *testing.T) {
	assert.Equal(t, "alert:claim:user_1:1700000000000", ClaimKey("user_1", 1_700_000_000_000))
}

func TestNewClaimStoreWithoutRedis(t *testing.T) {
	assert.IsType(t, &MemoryClaimStore{}, NewClaimStore(nil, nil))
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisClaimStore(t *testing.T) {
	ctx := context.Background()
	mr, rc := newMiniredisClient(t)
	store := NewRedisClaimStore(rc, nil)

	ok, err := store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("k"))

	ok, err = store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held claim")

	// a second process sharing the same redis sees the claim too
	other := NewRedisClaimStore(rc, nil)
	ok, _ = other.TryClaim(ctx, "k", time.Minute)
	assert.False(t, ok)

	mr.FastForward(61 * time.Second)
	ok, err = store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim")

	require.NoError(t, store.Release(ctx, "k"))
	assert.False(t, mr.Exists("k"))
	ok, _ = other.TryClaim(ctx, "k", time.Minute)
	assert.True(t, ok, "released claim")
}

func TestRedisClaimStoreFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	rc := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rc.Close() })
	store := NewRedisClaimStore(rc, nil)

	ok, err := store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryClaim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "memory fallback still excludes within the process")

	assert.Error(t, store.Release(ctx, "k"), "redis error is reported")
	ok, _ = store.TryClaim(ctx, "k", time.Minute)
	assert.True(t, ok, "fallback claim was released")
}

func TestNewClaimStoreWithRedis(t *testing.T) {
	_, rc := newMiniredisClient(t)
	assert.IsType(t, &RedisClaimStore{}, NewClaimStore(rc, nil))
}
