package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/database/dbtest"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
	err       error
}

func (f *fakeCanceller) CancelSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.err
}

type fakeInvoices map[string][]string

func (f fakeInvoices) InvoicePriceIDs(_ context.Context, invoiceID string) ([]string, error) {
	ids, ok := f[invoiceID]
	if !ok {
		return nil, errors.New("no such invoice")
	}
	return ids, nil
}

type fixture struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	repos     *repository.Repositories
	catalog   *Catalog
	balances  *cache.BalanceCache
	credits   *CreditLedger
	subs      *SubscriptionLedger
	orch      *Orchestrator
	canceller *fakeCanceller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	mr, store := cachetest.NewStore(t)
	balances := cache.NewBalanceCache(store)
	catalog := DefaultCatalog(0)

	f := &fixture{
		db:        db,
		mr:        mr,
		repos:     repos,
		catalog:   catalog,
		balances:  balances,
		credits:   NewCreditLedger(repos.CreditTransaction, repos.User, balances),
		subs:      NewSubscriptionLedger(repos.SubscriptionRecord, catalog),
		canceller: &fakeCanceller{},
	}
	f.setNow(baseTime)
	f.orch = NewOrchestrator(catalog, f.credits, f.subs, NewProviderCanceller(f.canceller), nil)
	f.orch.now = func() time.Time { return baseTime }
	f.seedUser(t, "u1", 0)
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.credits.now = func() time.Time { return now }
	f.subs.now = func() time.Time { return now }
}

func (f *fixture) seedUser(t *testing.T, id string, credits int64) {
	t.Helper()
	require.NoError(t, f.repos.User.Create(context.Background(), &models.User{
		ID:      id,
		Email:   id + "@example.com",
		Credits: credits,
		Status:  models.STATUS_ACTIVE,
	}))
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	credits, err := f.repos.User.GetCredits(context.Background(), userID)
	require.NoError(t, err)
	return credits
}

func (f *fixture) ledgerSum(t *testing.T, userID string) int64 {
	t.Helper()
	sum, err := f.repos.CreditTransaction.SumByUser(context.Background(), userID)
	require.NoError(t, err)
	return sum
}

func (f *fixture) ledgerRows(t *testing.T, userID string) []models.CreditTransaction {
	t.Helper()
	rows, err := f.repos.CreditTransaction.ListByUser(context.Background(), userID, 0, 100)
	require.NoError(t, err)
	return rows
}

func (f *fixture) subscriptionRows(t *testing.T, subscriptionID string) []models.SubscriptionRecord {
	t.Helper()
	rows, err := f.repos.SubscriptionRecord.ListBySubscriptionID(context.Background(), subscriptionID)
	require.NoError(t, err)
	return rows
}
