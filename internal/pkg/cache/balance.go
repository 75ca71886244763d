package cache

import (
	"context"
	"strconv"
	"time"
)

const (
	// BalanceTTL bounds how long a balance written through after a ledger
	// append may be served.
	BalanceTTL = time.Hour
	// BalanceFillTTL bounds a read-through fill. A fill can land after a
	// concurrent write and hold a value older than the database.
	BalanceFillTTL = time.Minute
)

// BalanceCache caches a user's credit balance under user_credits_<id>.
type BalanceCache struct {
	store   Store
	ttl     time.Duration
	fillTTL time.Duration
}

func NewBalanceCache(store Store) *BalanceCache {
	return &BalanceCache{store: store, ttl: BalanceTTL, fillTTL: BalanceFillTTL}
}

func balanceKey(userID string) string {
	return "user_credits_" + userID
}

// Get returns the cached balance. A malformed entry is reported as a miss.
func (c *BalanceCache) Get(ctx context.Context, userID string) (int64, bool, error) {
	raw, ok, err := c.store.Get(ctx, balanceKey(userID))
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, userID string, credits int64) error {
	return c.store.SetWithExpiry(ctx, balanceKey(userID), strconv.FormatInt(credits, 10), c.ttl)
}

// Fill caches a balance read from the database.
func (c *BalanceCache) Fill(ctx context.Context, userID string, credits int64) error {
	return c.store.SetWithExpiry(ctx, balanceKey(userID), strconv.FormatInt(credits, 10), c.fillTTL)
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	return c.store.Delete(ctx, balanceKey(userID))
}
