package kvstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a Redis-backed store for testing.
// Requires a Redis server; set REDIS_TEST_ADDR to override the default.
func setupTestStore(t *testing.T) *RedisStore {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	store, err := NewRedisStore(RedisConfig{Addr: addr})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return store
}

func TestRedisStore_SetGet(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := "test:kv:" + t.Name()
	defer store.Del(ctx, key)

	require.NoError(t, store.Set(ctx, key, "value-1", time.Minute))

	val, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "value-1", val)

	ttl, err := store.TTL(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestRedisStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.Get(context.Background(), "test:kv:missing:"+t.Name())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_KeysPrefix(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	prefix := "test:kv:prefix:" + t.Name() + ":"
	for _, suffix := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, prefix+suffix, "x", time.Minute))
	}
	defer store.Del(ctx, prefix+"a", prefix+"b", prefix+"c")

	keys, err := store.Keys(ctx, prefix)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestRedisStore_ExpireNoTTL(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := "test:kv:nottl:" + t.Name()
	defer store.Del(ctx, key)

	require.NoError(t, store.Set(ctx, key, "x", 0))

	ttl, err := store.TTL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, store.Expire(ctx, key, time.Minute))

	ttl, err = store.TTL(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestRedisStore_TTLMissing(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.TTL(context.Background(), "test:kv:missing:"+t.Name())
	assert.ErrorIs(t, err, ErrNotFound)
}

// go-redis passes the server's -2 and -1 TTL replies through as raw
// durations (nanoseconds), not seconds.
func TestMapTTLReply(t *testing.T) {
	_, err := mapTTLReply(-2)
	assert.ErrorIs(t, err, ErrNotFound)

	d, err := mapTTLReply(-1)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), d)

	d, err = mapTTLReply(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	// Second-scaled sentinels are ordinary live TTLs, not specials.
	d, err = mapTTLReply(-2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, -2*time.Second, d)
}

func TestWithRetry(t *testing.T) {
	store := &RedisStore{}
	ctx := context.Background()

	attempts := 0
	err := store.WithRetry(ctx, 3, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = store.WithRetry(ctx, 2, func() error {
		attempts++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRedisStore_Incr(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := "test:kv:counter:" + t.Name()
	defer store.Del(ctx, key)

	n, err := store.Incr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFake_TTLExpiry(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	require.NoError(t, fake.Set(ctx, "k", "v", time.Minute))

	val, err := fake.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	fake.Advance(2 * time.Minute)

	_, err = fake.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFake_NoTTLSurvives(t *testing.T) {
	fake := NewFake()
	fake.SetRaw("k", "v", 0)

	fake.Advance(24 * time.Hour)

	ttl, err := fake.TTL(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}
