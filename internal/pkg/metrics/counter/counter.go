package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
)

const webhookOutcomesKey = "webhook:counters:outcomes"

// WebhookCounters keeps one Redis hash field per webhook outcome.
type WebhookCounters struct {
	rdb redis.Cmdable
}

func NewWebhookCounters(rdb redis.Cmdable) *WebhookCounters {
	return &WebhookCounters{rdb: rdb}
}

// Default returns counters on the shared cache client.
func Default() *WebhookCounters {
	return NewWebhookCounters(cache.GetClient())
}

// Add increments the counter for outcome.
func (w *WebhookCounters) Add(ctx context.Context, outcome string) error {
	return w.rdb.HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// Snapshot returns all outcome counters. Non-numeric fields are skipped.
func (w *WebhookCounters) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := w.rdb.HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset drains the counters and returns what they held.
func (w *WebhookCounters) Reset(ctx context.Context) (map[string]int64, error) {
	snap, err := w.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.rdb.Del(ctx, webhookOutcomesKey).Err(); err != nil {
		return nil, err
	}
	return snap, nil
}
