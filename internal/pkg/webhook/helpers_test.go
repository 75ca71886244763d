package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/payment"
)

const testSecret = "whsec_test"

type fakeProvider struct {
	mu            sync.Mutex
	invoices      map[string]*payment.Invoice
	subscriptions map[string]*payment.Subscription
	cancelled     []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		invoices:      map[string]*payment.Invoice{},
		subscriptions: map[string]*payment.Subscription{},
	}
}

func (p *fakeProvider) GetInvoice(_ context.Context, id string) (*payment.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invoices[id]
	if !ok {
		return nil, fmt.Errorf("no such invoice: %s", id)
	}
	return inv, nil
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*payment.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return nil
}

// failingOrders fails every call until err is cleared.
type failingOrders struct {
	err   error
	calls int
}

func (o *failingOrders) ProcessOrder(context.Context, billing.OrderDetail, billing.OrderFlags) (billing.OrderResult, error) {
	o.calls++
	return billing.OrderResult{Outcome: billing.OutcomeOneTimeGranted}, o.err
}

func (o *failingOrders) Refund(context.Context, billing.RefundDetail) (billing.OrderResult, error) {
	o.calls++
	return billing.OrderResult{}, o.err
}

func (o *failingOrders) Cancel(context.Context, string) (billing.OrderResult, error) {
	o.calls++
	return billing.OrderResult{}, o.err
}

type harness struct {
	db         *gorm.DB
	repos      *repository.Repositories
	mr         *miniredis.Miniredis
	store      *cache.RedisStore
	counters   *counter.WebhookCounters
	provider   *fakeProvider
	orch       *billing.Orchestrator
	reconciler *Reconciler
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, projectID string) *harness {
	t.Helper()

	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	mr, rdb := cachetest.NewRedis(t)
	store := cache.NewRedisStore(rdb)
	catalog := billing.DefaultCatalog(0)
	provider := newFakeProvider()

	credits := billing.NewCreditLedger(repos.CreditTransaction, repos.User, cache.NewBalanceCache(store))
	subs := billing.NewSubscriptionLedger(repos.SubscriptionRecord, catalog)
	orch := billing.NewOrchestrator(catalog, credits, subs, billing.NewProviderCanceller(provider), payment.PriceLookup{Provider: provider})

	h := &harness{
		db:       db,
		repos:    repos,
		mr:       mr,
		store:    store,
		counters: counter.NewWebhookCounters(rdb),
		provider: provider,
		orch:     orch,
	}
	h.reconciler = NewReconciler(orch, provider, projectID)
	h.dispatcher = NewDispatcher(testSecret, projectID, store, h.reconciler,
		WithAudit(repos.WebhookEvent),
		WithCounters(h.counters),
	)

	require.NoError(t, repos.User.Create(context.Background(), &models.User{
		ID:     "u1",
		Email:  "u1@example.com",
		Status: models.STATUS_ACTIVE,
	}))
	return h
}

func eventJSON(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "api_version": "2025-03-31.basil",
  "created": 1772366400,
  "livemode": false,
  "data": {"object": %s}
}`, id, eventType, object))
}

func sign(payload []byte) (body []byte, header string) {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func (h *harness) deliver(t *testing.T, id, eventType, object string) (Result, error) {
	t.Helper()
	body, header := sign(eventJSON(id, eventType, object))
	return h.dispatcher.Handle(context.Background(), body, header)
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	credits, err := h.repos.User.GetCredits(context.Background(), "u1")
	require.NoError(t, err)
	return credits
}

func (h *harness) ledger(t *testing.T) []models.CreditTransaction {
	t.Helper()
	rows, err := h.repos.CreditTransaction.ListByUser(context.Background(), "u1", 0, 100)
	require.NoError(t, err)
	return rows
}

func (h *harness) auditRow(t *testing.T, eventID string) models.WebhookEvent {
	t.Helper()
	var ev models.WebhookEvent
	require.NoError(t, h.db.Where("provider_event_id = ?", eventID).First(&ev).Error)
	return ev
}

var errBoom = errors.New("database unavailable")
