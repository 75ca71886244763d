package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/payment"
)

const providerStripe = "stripe"

var (
	// ErrSecretMissing is returned when no webhook secret is configured.
	ErrSecretMissing = errors.New("webhook secret not configured")
	// ErrInvalidSignature is returned when the payload signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrEventInFlight is returned while another delivery of the same event
	// is being handled.
	ErrEventInFlight = errors.New("webhook event in flight")
)

// OutcomeCounter counts webhook outcomes.
type OutcomeCounter interface {
	Add(ctx context.Context, outcome string) error
}

// Archiver stores verified payloads.
type Archiver interface {
	Archive(ctx context.Context, eventID string, created time.Time, payload []byte) error
}

// Result describes how a delivery was handled.
type Result struct {
	EventID   string
	EventType string
	Outcome   string
}

// Dispatcher verifies provider deliveries and routes them to an EventHandler
// behind the idempotency fence.
type Dispatcher struct {
	secret    string
	projectID string
	handler   EventHandler
	fence     *fence
	audit     repository.WebhookEventRepository
	counters  OutcomeCounter
	archive   Archiver
}

type Option func(*Dispatcher)

// WithAudit records every verified event in the webhook_events table.
func WithAudit(repo repository.WebhookEventRepository) Option {
	return func(d *Dispatcher) { d.audit = repo }
}

// WithCounters counts outcomes.
func WithCounters(c OutcomeCounter) Option {
	return func(d *Dispatcher) { d.counters = c }
}

// WithArchive uploads verified payloads.
func WithArchive(a Archiver) Option {
	return func(d *Dispatcher) { d.archive = a }
}

// WithClock overrides the time source of the fence markers.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.fence.now = now }
}

// NewDispatcher creates a dispatcher. An empty projectID accepts events of
// every project.
func NewDispatcher(secret, projectID string, store cache.Store, handler EventHandler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		secret:    strings.TrimSpace(secret),
		projectID: strings.TrimSpace(projectID),
		handler:   handler,
		fence:     &fence{store: store, now: time.Now},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle verifies and processes one delivery. Acknowledged deliveries
// (including skipped and duplicate ones) return a nil error.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	if d.secret == "" {
		return Result{}, ErrSecretMissing
	}
	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, d.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	res := Result{EventID: event.ID, EventType: string(event.Type)}

	d.archivePayload(ctx, event, payload)
	auditID := d.record(ctx, event)

	ev, err := decode(event)
	if err != nil {
		d.finish(ctx, auditID, &res, models.WebhookOutcomeFailed, err)
		return res, fmt.Errorf("decode event %s: %w", event.ID, err)
	}
	if ev == nil {
		log.Infof("[Webhook] Ignoring event %s of unhandled type %s", event.ID, event.Type)
		d.finish(ctx, auditID, &res, models.WebhookOutcomeIgnored, nil)
		return res, nil
	}
	if meta, ok := ev.metadata(); ok && !OwnsProject(d.projectID, meta) {
		log.Infof("[Webhook] Skipping event %s: project %q is not ours", event.ID, payment.Meta(meta, payment.MetaProjectID))
		d.finish(ctx, auditID, &res, models.WebhookOutcomeForeignProject, nil)
		return res, nil
	}

	state, err := d.fence.claim(ctx, event.ID)
	if err != nil {
		return res, fmt.Errorf("claim event %s: %w", event.ID, err)
	}
	switch state {
	case claimDuplicate:
		log.Infof("[Webhook] Event %s already processed", event.ID)
		d.finish(ctx, auditID, &res, models.WebhookOutcomeDuplicate, nil)
		return res, nil
	case claimInFlight:
		log.Infof("[Webhook] Event %s is being processed by another delivery", event.ID)
		return res, ErrEventInFlight
	}

	outcome, herr := ev.dispatch(ctx, d.handler)
	if herr != nil {
		if err := d.fence.release(ctx, event.ID); err != nil {
			log.Warnf("[Webhook] Could not release claim of event %s: %v", event.ID, err)
		}
		log.Errorf("[Webhook] Event %s (%s) failed: %v", event.ID, event.Type, herr)
		d.finish(ctx, auditID, &res, models.WebhookOutcomeFailed, herr)
		return res, herr
	}
	if err := d.fence.complete(ctx, event.ID); err != nil {
		log.Warnf("[Webhook] Could not mark event %s processed: %v", event.ID, err)
	}
	d.finish(ctx, auditID, &res, outcome, nil)
	return res, nil
}

// OwnsProject reports whether metadata belongs to projectID. An empty
// projectID owns everything.
func OwnsProject(projectID string, meta map[string]string) bool {
	if projectID == "" {
		return true
	}
	return payment.Meta(meta, payment.MetaProjectID) == projectID
}

func (d *Dispatcher) archivePayload(ctx context.Context, event stripe.Event, payload []byte) {
	if d.archive == nil {
		return
	}
	created := time.Unix(event.Created, 0).UTC()
	billing.BestEffort(ctx, "archive of webhook "+event.ID, func(ctx context.Context) error {
		return d.archive.Archive(ctx, event.ID, created, payload)
	})
}

func (d *Dispatcher) record(ctx context.Context, event stripe.Event) uint {
	if d.audit == nil {
		return 0
	}
	created, stored, err := d.audit.CreateIfNotExists(ctx, &models.WebhookEvent{
		Provider:        providerStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
	})
	if err != nil || stored == nil {
		log.Warnf("[Webhook] Could not record event %s: %v", event.ID, err)
		return 0
	}
	// redeliveries only update rows that never reached a final outcome
	if !created && stored.Outcome != "" && stored.Outcome != models.WebhookOutcomeFailed {
		return 0
	}
	return stored.ID
}

func (d *Dispatcher) finish(ctx context.Context, auditID uint, res *Result, outcome string, procErr error) {
	res.Outcome = outcome
	if d.counters != nil {
		billing.BestEffort(ctx, "webhook counter "+outcome, func(ctx context.Context) error {
			return d.counters.Add(ctx, outcome)
		})
	}
	if d.audit == nil || auditID == 0 {
		return
	}
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	billing.BestEffort(ctx, "audit of webhook "+res.EventID, func(ctx context.Context) error {
		return d.audit.MarkOutcome(ctx, auditID, outcome, msg)
	})
}
