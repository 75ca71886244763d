package counter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache/cachetest"
)

func TestWebhookCounters(t *testing.T) {
	mr, rdb := cachetest.NewRedis(t)
	counters := NewWebhookCounters(rdb)
	ctx := context.Background()

	require.NoError(t, counters.Add(ctx, "processed"))
	require.NoError(t, counters.Add(ctx, "processed"))
	require.NoError(t, counters.Add(ctx, "duplicate"))
	mr.HSet(webhookOutcomesKey, "broken", "x")

	snap, err := counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"processed": 2, "duplicate": 1}, snap)

	drained, err := counters.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, drained)

	snap, err = counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}
