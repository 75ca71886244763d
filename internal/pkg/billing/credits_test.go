package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
)

func TestApplyGrantAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.credits.Apply(ctx, Entry{Kind: KindOneTimeGrant, UserID: "u1", Amount: 1000, OrderNumber: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), r.Delta)
	assert.Equal(t, int64(1000), r.Balance)
	assert.NotZero(t, r.TransactionID)

	r, err = f.credits.Apply(ctx, Entry{Kind: KindOneTimeGrant, UserID: "u1", Amount: 1000, OrderNumber: "pi_1"})
	assert.ErrorIs(t, err, ErrDuplicateOrder)
	assert.Equal(t, int64(1000), r.Balance)

	assert.Equal(t, int64(1000), f.balance(t, "u1"))
	assert.Len(t, f.ledgerRows(t, "u1"), 1)
}

func TestApplyRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Apply(ctx, Entry{Kind: "bonus", UserID: "u1", Amount: 1})
	assert.Error(t, err)

	_, err = f.credits.Apply(ctx, Entry{Kind: KindSystemGrant, UserID: "", Amount: 1})
	assert.ErrorIs(t, err, ErrMissingCorrelation)

	_, err = f.credits.Apply(ctx, Entry{Kind: KindSystemGrant, UserID: "u1", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyStoresSignedTypedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Apply(ctx, Entry{Kind: KindSubscriptionGrant, UserID: "u1", Amount: 3000, OrderNumber: "in_1"})
	require.NoError(t, err)
	ok, _, err := f.credits.Deduct(ctx, "u1", 500, "palm reading")
	require.NoError(t, err)
	require.True(t, ok)

	rows := f.ledgerRows(t, "u1")
	require.Len(t, rows, 2)
	byType := map[models.CreditType]models.CreditTransaction{}
	for _, r := range rows {
		byType[r.CreditType] = r
	}
	assert.Equal(t, int64(3000), byType[models.CreditTypeSubscription].CreditAmount)
	assert.Equal(t, models.CreditTransactionEarn, byType[models.CreditTypeSubscription].CreditTransactionType)
	assert.Equal(t, int64(-500), byType[models.CreditTypeManualDebit].CreditAmount)
	assert.Equal(t, models.CreditTransactionSpend, byType[models.CreditTypeManualDebit].CreditTransactionType)
	assert.NotEmpty(t, byType[models.CreditTypeManualDebit].OrderNumber, "debits get a generated order number")
}

func TestDeductInsufficientLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u2", 300)

	ok, _, err := f.credits.Deduct(context.Background(), "u2", 500, "reading")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(300), f.balance(t, "u2"))
	assert.Empty(t, f.ledgerRows(t, "u2"))
}

func TestDeductSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u2", 300)

	ok, r, err := f.credits.Deduct(context.Background(), "u2", 300, "reading")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), r.Balance)
	assert.Equal(t, int64(0), f.balance(t, "u2"))
}

func TestRefundTaskIsIdempotentAndSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.credits.RefundTask(ctx, "u1", 200, "task-9")
	f.credits.RefundTask(ctx, "u1", 200, "task-9")
	assert.Equal(t, int64(200), f.balance(t, "u1"))

	rows := f.ledgerRows(t, "u1")
	require.Len(t, rows, 1)
	assert.Equal(t, "task_refund_task-9", rows[0].OrderNumber)
	assert.Equal(t, models.CreditTypeRefund, rows[0].CreditType)

	// unknown user: logged, never returned
	assert.NotPanics(t, func() { f.credits.RefundTask(ctx, "ghost", 200, "task-10") })
}

func TestBalanceReadThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Grant(ctx, "u1", 700, "welcome bonus")
	require.NoError(t, err)

	v, err := f.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), v)

	cached, ok, err := f.balances.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(700), cached)

	assert.Equal(t, cache.BalanceFillTTL, f.mr.TTL("user_credits_u1"))

	// a write stores the committed balance
	_, err = f.credits.Grant(ctx, "u1", 50, "bonus")
	require.NoError(t, err)
	cached, ok, err = f.balances.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(750), cached)
	assert.Equal(t, cache.BalanceTTL, f.mr.TTL("user_credits_u1"))

	v, err = f.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), v)
}

func TestLateBalanceFillExpiresQuickly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Grant(ctx, "u1", 700, "welcome bonus")
	require.NoError(t, err)

	// a reader that loaded the balance before the grant fills the cache after it
	require.NoError(t, f.balances.Fill(ctx, "u1", 0))
	v, err := f.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	f.mr.FastForward(cache.BalanceFillTTL)
	v, err = f.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), v)

	// the next write replaces a stale fill right away
	require.NoError(t, f.balances.Fill(ctx, "u1", 0))
	_, err = f.credits.Grant(ctx, "u1", 50, "bonus")
	require.NoError(t, err)
	v, err = f.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), v)
}

func TestBalanceConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Apply(ctx, Entry{Kind: KindSubscriptionGrant, UserID: "u1", Amount: 3000, OrderNumber: "in_1"})
	require.NoError(t, err)
	_, _, err = f.credits.Deduct(ctx, "u1", 1200, "reading")
	require.NoError(t, err)
	f.credits.RefundTask(ctx, "u1", 100, "task-1")
	_, _, err = f.credits.Deduct(ctx, "u1", 99999, "too much")
	require.NoError(t, err)
	_, err = f.credits.Apply(ctx, Entry{Kind: KindChargeRefund, UserID: "u1", Amount: 5000, OrderNumber: "refund_ch_1"})
	require.NoError(t, err)
	_, err = f.credits.Grant(ctx, "u1", 10, "goodwill")
	require.NoError(t, err)

	assert.Equal(t, int64(10), f.balance(t, "u1"))
	assert.Equal(t, f.balance(t, "u1"), f.ledgerSum(t, "u1"))
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.credits.Grant(ctx, "u1", 400, "bonus")
	require.NoError(t, err)
	require.NoError(t, f.repos.User.SetCredits(ctx, "u1", 9999))

	before, after, err := f.credits.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(9999), before)
	assert.Equal(t, int64(400), after)
	assert.Equal(t, int64(400), f.balance(t, "u1"))
}

func TestHistoryClampsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.credits.Grant(ctx, "u1", 1, "tick")
		require.NoError(t, err)
	}
	rows, err := f.credits.History(ctx, "u1", -5, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = f.credits.History(ctx, "u1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
