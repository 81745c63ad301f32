package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func newTestMemory(t *testing.T, opts ...MemoryOption) (*MemoryCache, *time.Time) {
	t.Helper()
	opts = append([]MemoryOption{WithMemoryCleanup(0)}, opts...)
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	now := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	return mc, &now
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestMemory(t)

	require.NoError(t, mc.Set(ctx, "p", point{Symbol: "AAPL", Price: 101.5}, time.Minute))
	var got point
	require.NoError(t, mc.Get(ctx, "p", &got))
	assert.Equal(t, point{Symbol: "AAPL", Price: 101.5}, got)

	require.NoError(t, mc.Set(ctx, "s", "raw", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "raw", s)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory(t)

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	*now = now.Add(2 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory(t, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	*now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	*now = now.Add(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	*now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory(t)

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lock"))
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.True(t, ok)

	*now = now.Add(2 * time.Minute)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.True(t, ok, "expired lock is free")
}

func TestLayeredCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	remote, _ := newTestMemory(t)
	lc := NewLayeredCache(remote, WithLayeredMemoryTTL(time.Second))
	t.Cleanup(func() { _ = lc.Close() })
	l1now := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	lc.memCache.now = func() time.Time { return l1now }

	require.NoError(t, lc.Set(ctx, "p", point{Symbol: "MSFT", Price: 400}, time.Minute))

	var got point
	require.NoError(t, remote.Get(ctx, "p", &got), "written through to remote")

	// L1 still answers after the remote copy is gone.
	require.NoError(t, remote.Delete(ctx, "p"))
	got = point{}
	require.NoError(t, lc.Get(ctx, "p", &got))
	assert.Equal(t, "MSFT", got.Symbol)

	// Once L1 expires the miss comes from remote.
	l1now = l1now.Add(2 * time.Second)
	assert.ErrorIs(t, lc.Get(ctx, "p", &got), ErrCacheMiss)

	// A remote-only value is pulled into L1.
	require.NoError(t, remote.Set(ctx, "q", point{Symbol: "NVDA"}, 0))
	require.NoError(t, lc.Get(ctx, "q", &got))
	assert.Equal(t, "NVDA", got.Symbol)
	assert.Equal(t, 1, lc.memCache.Len())
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "structure:AAPL:1m", GenerateKeyWithParams("structure", "AAPL", "1m"))
}
