package billing

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// BestEffort runs fn and logs its failure instead of returning it.
func BestEffort(ctx context.Context, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Warnf("[Billing] best-effort %s failed: %v", op, err)
	}
}

// BalanceInvalidator drops a cached balance. Failures are logged by the
// implementation.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// ProviderCanceller cancels a subscription at the payment provider.
// Failures are logged by the implementation; local state stays authoritative.
type ProviderCanceller interface {
	CancelAtProvider(ctx context.Context, subscriptionID string)
}

// TaskRefunder returns credits for a task that failed after charging.
type TaskRefunder interface {
	RefundTask(ctx context.Context, userID string, amount int64, taskID string)
}

type fallibleInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type cacheInvalidator struct {
	cache fallibleInvalidator
}

// NewBalanceInvalidator adapts a cache whose Invalidate can fail. A nil cache
// yields a no-op.
func NewBalanceInvalidator(cache fallibleInvalidator) BalanceInvalidator {
	return cacheInvalidator{cache: cache}
}

func (c cacheInvalidator) Invalidate(ctx context.Context, userID string) {
	if c.cache == nil {
		return
	}
	BestEffort(ctx, "balance cache invalidation", func(ctx context.Context) error {
		return c.cache.Invalidate(ctx, userID)
	})
}

type subscriptionCanceller interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type providerCanceller struct {
	provider subscriptionCanceller
}

// NewProviderCanceller adapts a payment provider. A nil provider yields a no-op.
func NewProviderCanceller(provider subscriptionCanceller) ProviderCanceller {
	return providerCanceller{provider: provider}
}

func (p providerCanceller) CancelAtProvider(ctx context.Context, subscriptionID string) {
	if p.provider == nil || subscriptionID == "" {
		return
	}
	BestEffort(ctx, "provider cancel of "+subscriptionID, func(ctx context.Context) error {
		return p.provider.CancelSubscription(ctx, subscriptionID)
	})
}
