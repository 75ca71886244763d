package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// BalancePolicy controls how a credit append may move the cached balance.
type BalancePolicy int

const (
	// BalanceUnchecked applies the delta as-is (grants).
	BalanceUnchecked BalancePolicy = iota
	// BalanceRequireFunds rejects a debit that would make the balance negative.
	BalanceRequireFunds
	// BalanceClampToZero shrinks a debit so the balance stops at zero. The
	// stored transaction carries the clamped amount.
	BalanceClampToZero
)

// AppendResult describes the outcome of CreditTransactionRepository.Append.
type AppendResult struct {
	// Inserted is false when the order number was already recorded.
	Inserted bool
	// Insufficient is set when BalanceRequireFunds rejected the debit.
	Insufficient bool
	// Balance is the cached balance after the append.
	Balance int64
}

// CreditTransactionRepository is the append-only credit ledger plus the
// cached balance it feeds.
type CreditTransactionRepository interface {
	Append(ctx context.Context, txn *models.CreditTransaction, policy BalancePolicy) (AppendResult, error)
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
	SumByUser(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]models.CreditTransaction, error)
	ListByUserAndType(ctx context.Context, userID string, creditType models.CreditType) ([]models.CreditTransaction, error)
}

// SubscriptionRecordRepository is the subscription lifecycle log.
type SubscriptionRecordRepository interface {
	Insert(ctx context.Context, rec *models.SubscriptionRecord) (int64, error)
	ExistsBySubscriptionID(ctx context.Context, subscriptionID string) (bool, error)
	LatestByUser(ctx context.Context, userID string) (*models.SubscriptionRecord, error)
	ListBySubscriptionID(ctx context.Context, subscriptionID string) ([]models.SubscriptionRecord, error)
	CancelLatest(ctx context.Context, subscriptionID string, at time.Time) (int64, error)
	HasTrial(ctx context.Context, userID string, plans []models.PlanType) (bool, error)
}

// UserRepository exposes the user rows the ledger needs.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	GetCredits(ctx context.Context, id string) (int64, error)
	SetCredits(ctx context.Context, id string, credits int64) error
}

// WebhookEventRepository persists the webhook audit trail.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkOutcome(ctx context.Context, id uint, outcome, processingError string) error
}

// Repositories holds all repository instances
type Repositories struct {
	User               UserRepository
	CreditTransaction  CreditTransactionRepository
	SubscriptionRecord SubscriptionRecordRepository
	WebhookEvent       WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:               NewUserRepository(db),
		CreditTransaction:  NewCreditTransactionRepository(db),
		SubscriptionRecord: NewSubscriptionRecordRepository(db),
		WebhookEvent:       NewWebhookEventRepository(db),
	}
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
