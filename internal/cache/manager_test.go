package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectionFailure(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestManager_GetMissing(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_TTLSemantics(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "default", "v", 0))
	require.NoError(t, manager.Set(ctx, "explicit", "v", 10*time.Second))
	require.NoError(t, manager.Set(ctx, "forever", "v", -1))

	assert.Equal(t, time.Minute, mr.TTL("default"))
	assert.Equal(t, 10*time.Second, mr.TTL("explicit"))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))

	mr.FastForward(2 * time.Minute)

	_, err := manager.Get(ctx, "default")
	assert.True(t, IsCacheMiss(err))
	_, err = manager.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, manager.SetJSON(ctx, "json", payload{Name: "a", Count: 2}, time.Minute))

	var got payload
	require.NoError(t, manager.GetJSON(ctx, "json", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	require.NoError(t, manager.Set(ctx, "bad", "{not json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "bad", &got))

	assert.Error(t, manager.SetJSON(ctx, "chan", make(chan int), time.Minute))
}

func TestManager_Counters(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	n, err := manager.GetInt(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 1; i <= 3; i++ {
		n, err = manager.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err = manager.GetInt(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, manager.Set(ctx, "text", "abc", -1))
	_, err = manager.GetInt(ctx, "text")
	assert.Error(t, err)
}

func TestManager_ScanKeysAndDelete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"cp:a", "cp:b", "other:c"} {
		require.NoError(t, manager.Set(ctx, k, "1", -1))
	}

	keys, err := manager.ScanKeys(ctx, "cp:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"cp:a", "cp:b"}, keys)

	require.NoError(t, manager.Delete(ctx, "cp:a", "cp:b"))
	require.NoError(t, manager.Delete(ctx))

	keys, err = manager.ScanKeys(ctx, "cp:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	_, err := manager.Incr(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_ConcurrentIncr(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Incr(ctx, "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := manager.GetInt(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}
