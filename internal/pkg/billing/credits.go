package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
)

// EntryKind selects how a ledger entry moves the balance.
type EntryKind string

const (
	KindSubscriptionGrant EntryKind = "subscription_grant"
	KindOneTimeGrant      EntryKind = "one_time_grant"
	KindTrialGrant        EntryKind = "trial_grant"
	KindTaskRefund        EntryKind = "task_refund"
	KindChargeRefund      EntryKind = "charge_refund"
	KindManualDebit       EntryKind = "manual_debit"
	KindSystemGrant       EntryKind = "system_grant"
)

type kindRule struct {
	creditType models.CreditType
	txType     models.CreditTransactionType
	sign       int64
	policy     repository.BalancePolicy
}

var kindRules = map[EntryKind]kindRule{
	KindSubscriptionGrant: {models.CreditTypeSubscription, models.CreditTransactionEarn, 1, repository.BalanceUnchecked},
	KindOneTimeGrant:      {models.CreditTypeOneTime, models.CreditTransactionEarn, 1, repository.BalanceUnchecked},
	KindTrialGrant:        {models.CreditTypeSubscription, models.CreditTransactionEarn, 1, repository.BalanceUnchecked},
	KindTaskRefund:        {models.CreditTypeRefund, models.CreditTransactionRefund, 1, repository.BalanceUnchecked},
	KindChargeRefund:      {models.CreditTypeRefund, models.CreditTransactionRefund, -1, repository.BalanceClampToZero},
	KindManualDebit:       {models.CreditTypeManualDebit, models.CreditTransactionSpend, -1, repository.BalanceRequireFunds},
	KindSystemGrant:       {models.CreditTypeSystemGrant, models.CreditTransactionEarn, 1, repository.BalanceUnchecked},
}

// Entry is one credit movement. Amount is a magnitude; the kind decides the
// sign stored in the ledger.
type Entry struct {
	Kind        EntryKind
	UserID      string
	Amount      int64
	OrderNumber string
	OrderPrice  decimal.Decimal
	Description string
	ProductName string
	OrderDate   time.Time
}

// Receipt describes an applied entry.
type Receipt struct {
	TransactionID uint
	OrderNumber   string
	// Delta is the signed amount written, after clamping.
	Delta   int64
	Balance int64
}

// BalanceCache is the cache in front of users.credits. Set stores a balance
// committed by a ledger append; Fill stores one read from the database and
// expires sooner.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (int64, bool, error)
	Set(ctx context.Context, userID string, credits int64) error
	Fill(ctx context.Context, userID string, credits int64) error
	Invalidate(ctx context.Context, userID string) error
}

// CreditLedger appends credit transactions and keeps the cached balance in
// step with them.
type CreditLedger struct {
	txns        repository.CreditTransactionRepository
	users       repository.UserRepository
	cache       BalanceCache
	invalidator BalanceInvalidator
	now         func() time.Time
	newOrderID  func() string
}

// NewCreditLedger wires a ledger. cache may be nil.
func NewCreditLedger(txns repository.CreditTransactionRepository, users repository.UserRepository, cache BalanceCache) *CreditLedger {
	return &CreditLedger{
		txns:        txns,
		users:       users,
		cache:       cache,
		invalidator: NewBalanceInvalidator(cache),
		now:         time.Now,
		newOrderID:  uuid.NewString,
	}
}

// Apply is the single write path: it appends the ledger row and moves the
// balance in one step. A repeated order number yields ErrDuplicateOrder and
// changes nothing; an overdrawing debit yields ErrInsufficientCredits.
func (l *CreditLedger) Apply(ctx context.Context, e Entry) (Receipt, error) {
	rule, ok := kindRules[e.Kind]
	if !ok {
		return Receipt{}, fmt.Errorf("unknown credit entry kind %q", e.Kind)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return Receipt{}, fmt.Errorf("%w: user id", ErrMissingCorrelation)
	}
	if e.Amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	if e.OrderNumber == "" {
		e.OrderNumber = l.newOrderID()
	}
	if e.OrderDate.IsZero() {
		e.OrderDate = l.now()
	}

	txn := &models.CreditTransaction{
		UserID:                e.UserID,
		OrderNumber:           e.OrderNumber,
		OrderPrice:            e.OrderPrice,
		CreditAmount:          rule.sign * e.Amount,
		CreditType:            rule.creditType,
		CreditTransactionType: rule.txType,
		CreditDesc:            e.Description,
		OrderDate:             e.OrderDate.UTC(),
		ProductName:           e.ProductName,
	}

	res, err := l.txns.Append(ctx, txn, rule.policy)
	if err != nil {
		return Receipt{}, err
	}
	if res.Insufficient {
		return Receipt{}, ErrInsufficientCredits
	}
	if !res.Inserted {
		log.Infof("[Credits] Order %s already recorded for user %s, skipping", e.OrderNumber, e.UserID)
		return Receipt{OrderNumber: e.OrderNumber, Balance: res.Balance}, ErrDuplicateOrder
	}

	l.storeBalance(ctx, e.UserID, res.Balance)
	log.Infof("[Credits] %s %+d for user %s (order %s), balance %d", e.Kind, txn.CreditAmount, e.UserID, e.OrderNumber, res.Balance)
	return Receipt{
		TransactionID: txn.ID,
		OrderNumber:   e.OrderNumber,
		Delta:         txn.CreditAmount,
		Balance:       res.Balance,
	}, nil
}

// storeBalance writes a committed balance through to the cache. When that
// fails the entry is dropped so readers fall back to the database.
func (l *CreditLedger) storeBalance(ctx context.Context, userID string, balance int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, userID, balance); err != nil {
		log.Warnf("[Credits] balance cache write failed for user %s: %v", userID, err)
		l.invalidator.Invalidate(ctx, userID)
	}
}

// Grant adds credits outside of a provider order, e.g. an admin grant.
func (l *CreditLedger) Grant(ctx context.Context, userID string, amount int64, desc string) (Receipt, error) {
	return l.Apply(ctx, Entry{
		Kind:        KindSystemGrant,
		UserID:      userID,
		Amount:      amount,
		Description: desc,
	})
}

// Deduct spends credits. Insufficient funds is reported as false with a nil
// error; the error is reserved for infrastructure failures.
func (l *CreditLedger) Deduct(ctx context.Context, userID string, amount int64, desc string) (bool, Receipt, error) {
	r, err := l.Apply(ctx, Entry{
		Kind:        KindManualDebit,
		UserID:      userID,
		Amount:      amount,
		Description: desc,
	})
	if errors.Is(err, ErrInsufficientCredits) {
		log.Infof("[Credits] Insufficient credits for user %s (requested %d)", userID, amount)
		return false, Receipt{}, nil
	}
	if err != nil {
		return false, Receipt{}, err
	}
	return true, r, nil
}

// RefundTask returns credits for a failed task. It never fails the caller.
// The task id keys the order number, so refunding a task twice is a no-op.
func (l *CreditLedger) RefundTask(ctx context.Context, userID string, amount int64, taskID string) {
	orderNumber := ""
	if id := strings.TrimSpace(taskID); id != "" {
		orderNumber = "task_refund_" + id
	}
	BestEffort(ctx, "task refund", func(ctx context.Context) error {
		_, err := l.Apply(ctx, Entry{
			Kind:        KindTaskRefund,
			UserID:      userID,
			Amount:      amount,
			OrderNumber: orderNumber,
			Description: "refund for task " + taskID,
		})
		if errors.Is(err, ErrDuplicateOrder) {
			return nil
		}
		return err
	})
}

// Balance reads the balance through the cache.
func (l *CreditLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if l.cache != nil {
		if v, ok, err := l.cache.Get(ctx, userID); err != nil {
			log.Warnf("[Credits] balance cache read failed for user %s: %v", userID, err)
		} else if ok {
			return v, nil
		}
	}

	credits, err := l.users.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	if l.cache != nil {
		BestEffort(ctx, "balance cache fill", func(ctx context.Context) error {
			return l.cache.Fill(ctx, userID, credits)
		})
	}
	return credits, nil
}

// ChargeRevocations returns the credits already revoked for a provider
// charge and whether orderNumber is one of its refund rows.
func (l *CreditLedger) ChargeRevocations(ctx context.Context, userID, chargeID, orderNumber string) (int64, bool, error) {
	rows, err := l.txns.ListByUserAndType(ctx, userID, models.CreditTypeRefund)
	if err != nil {
		return 0, false, fmt.Errorf("list refunds of %s: %w", userID, err)
	}
	base := chargeRefundPrefix + chargeID
	var revoked int64
	seen := false
	for _, r := range rows {
		if r.OrderNumber != base && !strings.HasPrefix(r.OrderNumber, base+"_") {
			continue
		}
		revoked -= r.CreditAmount
		if r.OrderNumber == orderNumber {
			seen = true
		}
	}
	return revoked, seen, nil
}

// History lists ledger rows, newest first.
func (l *CreditLedger) History(ctx context.Context, userID string, offset, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return l.txns.ListByUser(ctx, userID, offset, limit)
}

// Reconcile overwrites the cached balance with the signed ledger sum and
// returns the values before and after.
func (l *CreditLedger) Reconcile(ctx context.Context, userID string) (int64, int64, error) {
	before, err := l.users.GetCredits(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	sum, err := l.txns.SumByUser(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("sum ledger for %s: %w", userID, err)
	}
	if sum != before {
		if err := l.users.SetCredits(ctx, userID, sum); err != nil {
			return 0, 0, err
		}
		log.Warnf("[Credits] Reconciled user %s balance %d -> %d", userID, before, sum)
	}
	l.invalidator.Invalidate(ctx, userID)
	return before, sum, nil
}
