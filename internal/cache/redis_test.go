package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/yoga-studio/internal/config"
)

type testStruct struct {
	Name string
	Age  int
}

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	expected := testStruct{Name: "Alice", Age: 30}
	require.NoError(t, cache.Set(ctx, "client:1", expected, time.Minute))

	var actual testStruct
	found, err := cache.Get(ctx, "client:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected, actual)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out testStruct
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "key"))

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out testStruct
	found, err := cache.Get(ctx, "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		AddressRedis: "127.0.0.1:9999",
		DialTimeout:  100 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg)
	assert.Nil(t, cache)
	assert.Error(t, err)
}

func TestOnce(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	first, err := cache.Once(ctx, "notified:sub_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := cache.Once(ctx, "notified:sub_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	mr.FastForward(2 * time.Hour)
	again, err := cache.Once(ctx, "notified:sub_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestLock_MutualExclusion(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := cache.Lock(ctx, "subscription:sub_1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			maxSeen = max(maxSeen, holders)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestLock_ContextCancel(t *testing.T) {
	cache, mr := setupTestCache(t)

	unlock, err := cache.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cache.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists("lock:k"))
}

func TestLock_UnlockKeepsForeignLock(t *testing.T) {
	cache, mr := setupTestCache(t)

	unlock, err := cache.Lock(context.Background(), "k")
	require.NoError(t, err)

	// блокировка истекла и её захватил другой владелец
	mr.FastForward(cache.LockTTL + time.Second)
	require.NoError(t, mr.Set("lock:k", "other"))

	unlock()
	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}
