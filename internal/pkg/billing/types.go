package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCredits is returned when a debit would overdraw the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicateOrder is returned when the order number is already in the ledger.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrMissingCorrelation marks events that can never be reconciled (no user,
	// no resolvable price). They are acknowledged and skipped.
	ErrMissingCorrelation = errors.New("missing correlation data")
	// ErrUnknownPrice is returned when a price id is not in the catalog.
	ErrUnknownPrice = errors.New("unknown price")
	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("credit amount must be positive")
)

var validate = validator.New()

// OrderDetail is the normalized order built from a provider event.
type OrderDetail struct {
	UserID         string          `validate:"required"`
	TransactionID  string          `validate:"required"`
	InvoiceID      string          `validate:"omitempty"`
	PriceID        string          `validate:"required"`
	Price          decimal.Decimal `validate:"-"`
	Date           time.Time       `validate:"-"`
	CustomerID     string          `validate:"omitempty"`
	SubscriptionID string          `validate:"omitempty"`
	Description    string          `validate:"omitempty"`
}

// OrderNumber is the ledger dedup key. The invoice id wins so that a payment
// intent and the invoice it paid map to the same order.
func (o OrderDetail) OrderNumber() string {
	if id := strings.TrimSpace(o.InvoiceID); id != "" {
		return id
	}
	return strings.TrimSpace(o.TransactionID)
}

// Validate checks the fields every reconciliation path needs.
func (o OrderDetail) Validate() error {
	return validate.Struct(o)
}

// OrderFlags are set by the webhook handler from the event type.
type OrderFlags struct {
	IsTrial   bool
	IsRenewal bool
}

// RefundDetail is the normalized input of a charge refund.
type RefundDetail struct {
	UserID    string `validate:"required"`
	ChargeID  string `validate:"required"`
	InvoiceID string `validate:"omitempty"`
	PriceID   string `validate:"omitempty"`

	// Amount is the total refunded on the charge so far and ChargeAmount the
	// amount charged. A zero ChargeAmount revokes the product's full credits.
	Amount       decimal.Decimal `validate:"-"`
	ChargeAmount decimal.Decimal `validate:"-"`
	Date         time.Time       `validate:"-"`
}

func (r RefundDetail) Validate() error {
	return validate.Struct(r)
}

// OrderOutcome describes what ProcessOrder did.
type OrderOutcome string

const (
	OutcomeTrialGranted        OrderOutcome = "trial_granted"
	OutcomeOneTimeGranted      OrderOutcome = "one_time_granted"
	OutcomeSubscriptionNew     OrderOutcome = "subscription_new"
	OutcomeSubscriptionRenewal OrderOutcome = "subscription_renewal"
	OutcomeSubscriptionSwitch  OrderOutcome = "subscription_switch"
	OutcomeDuplicate           OrderOutcome = "duplicate"
	OutcomeRefunded            OrderOutcome = "refunded"
	OutcomeCancelled           OrderOutcome = "cancelled"
)

// OrderResult is returned by the orchestrator.
type OrderResult struct {
	Outcome       OrderOutcome
	TransactionID uint
	Credits       int64
	Balance       int64
	// RowsAffected counts subscription rows written or updated.
	RowsAffected int64
}
