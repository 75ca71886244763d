package webhook

import (
	"context"
	"time"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
)

const (
	// ProcessingTTL bounds how long a crashed delivery can block redelivery.
	ProcessingTTL = 5 * time.Minute
	// ProcessedTTL is how long a finished event id is remembered.
	ProcessedTTL = time.Hour
)

func processingKey(eventID string) string { return "webhook_processing_" + eventID }
func processedKey(eventID string) string  { return "webhook_processed_" + eventID }

type claimState int

const (
	claimAcquired claimState = iota
	claimDuplicate
	claimInFlight
)

// fence keeps one delivery of an event id in its handler at a time and
// remembers finished ids.
type fence struct {
	store cache.Store
	now   func() time.Time
}

func (f *fence) claim(ctx context.Context, eventID string) (claimState, error) {
	if _, done, err := f.store.Get(ctx, processedKey(eventID)); err != nil {
		return 0, err
	} else if done {
		return claimDuplicate, nil
	}

	ok, err := f.store.SetIfAbsent(ctx, processingKey(eventID), f.now().UTC().Format(time.RFC3339), ProcessingTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return claimInFlight, nil
	}

	// the previous holder may have finished between the two calls
	if _, done, err := f.store.Get(ctx, processedKey(eventID)); err == nil && done {
		_ = f.store.Delete(ctx, processingKey(eventID))
		return claimDuplicate, nil
	}
	return claimAcquired, nil
}

func (f *fence) complete(ctx context.Context, eventID string) error {
	if err := f.store.SetWithExpiry(ctx, processedKey(eventID), f.now().UTC().Format(time.RFC3339), ProcessedTTL); err != nil {
		return err
	}
	return f.store.Delete(ctx, processingKey(eventID))
}

func (f *fence) release(ctx context.Context, eventID string) error {
	return f.store.Delete(ctx, processingKey(eventID))
}
