package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache/cachetest"
)

func TestRedisStoreGetSet(t *testing.T) {
	mr, store := cachetest.NewStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "webhook_processed_evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetWithExpiry(ctx, "webhook_processed_evt_1", "2026-01-01T00:00:00Z", time.Hour))
	val, ok, err := store.Get(ctx, "webhook_processed_evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-01-01T00:00:00Z", val)
	assert.Equal(t, time.Hour, mr.TTL("webhook_processed_evt_1"))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = store.Get(ctx, "webhook_processed_evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreSetIfAbsent(t *testing.T) {
	_, store := cachetest.NewStore(t)
	ctx := context.Background()

	claimed, err := store.SetIfAbsent(ctx, "webhook_processing_evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.SetIfAbsent(ctx, "webhook_processing_evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.Delete(ctx, "webhook_processing_evt_1"))
	claimed, err = store.SetIfAbsent(ctx, "webhook_processing_evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestBalanceCache(t *testing.T) {
	mr, store := cachetest.NewStore(t)
	balances := cache.NewBalanceCache(store)
	ctx := context.Background()

	_, ok, err := balances.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, balances.Set(ctx, "u1", 3300))
	v, ok, err := balances.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3300), v)
	assert.Equal(t, cache.BalanceTTL, mr.TTL("user_credits_u1"))

	require.NoError(t, balances.Fill(ctx, "u1", 3200))
	v, ok, err = balances.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3200), v)
	assert.Equal(t, cache.BalanceFillTTL, mr.TTL("user_credits_u1"))

	require.NoError(t, balances.Invalidate(ctx, "u1"))
	_, ok, err = balances.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("user_credits_u2", "garbage"))
	_, ok, err = balances.Get(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}
