package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// InvoicePrices resolves the price ids billed on an invoice.
type InvoicePrices interface {
	InvoicePriceIDs(ctx context.Context, invoiceID string) ([]string, error)
}

// Orchestrator turns normalized orders into credit and subscription writes.
type Orchestrator struct {
	catalog  *Catalog
	credits  *CreditLedger
	subs     *SubscriptionLedger
	provider ProviderCanceller
	invoices InvoicePrices
	now      func() time.Time
}

// NewOrchestrator wires the reconciliation flow. invoices may be nil, in which
// case products are resolved from the order's price id only.
func NewOrchestrator(catalog *Catalog, credits *CreditLedger, subs *SubscriptionLedger, provider ProviderCanceller, invoices InvoicePrices) *Orchestrator {
	if provider == nil {
		provider = NewProviderCanceller(nil)
	}
	return &Orchestrator{
		catalog:  catalog,
		credits:  credits,
		subs:     subs,
		provider: provider,
		invoices: invoices,
		now:      time.Now,
	}
}

// Credits exposes the credit ledger used by the orchestrator.
func (o *Orchestrator) Credits() *CreditLedger {
	return o.credits
}

// Subscriptions exposes the subscription ledger used by the orchestrator.
func (o *Orchestrator) Subscriptions() *SubscriptionLedger {
	return o.subs
}

func (o *Orchestrator) resolveProduct(ctx context.Context, invoiceID, priceID string) (Product, bool) {
	if invoiceID != "" && o.invoices != nil {
		ids, err := o.invoices.InvoicePriceIDs(ctx, invoiceID)
		if err != nil {
			log.Warnf("[Billing] Could not load invoice %s, falling back to price id: %v", invoiceID, err)
		} else if p, ok := o.catalog.ResolveAny(ids...); ok {
			return p, true
		}
	}
	return o.catalog.Resolve(priceID)
}

// ProcessOrder reconciles one paid order. Orders that can never be matched
// fail with ErrMissingCorrelation before anything is written. A repeated
// order is reported as OutcomeDuplicate with a nil error.
func (o *Orchestrator) ProcessOrder(ctx context.Context, od OrderDetail, flags OrderFlags) (OrderResult, error) {
	if od.Date.IsZero() {
		od.Date = o.now()
	}
	if flags.IsTrial {
		return o.processTrial(ctx, od)
	}

	if err := od.Validate(); err != nil {
		log.Infof("[Billing] Skipping order %s: %v", od.OrderNumber(), err)
		return OrderResult{}, fmt.Errorf("%w: %v", ErrMissingCorrelation, err)
	}
	product, ok := o.resolveProduct(ctx, od.InvoiceID, od.PriceID)
	if !ok {
		log.Infof("[Billing] Skipping order %s: price %q not in catalog", od.OrderNumber(), od.PriceID)
		return OrderResult{}, fmt.Errorf("%w: %w %q", ErrMissingCorrelation, ErrUnknownPrice, od.PriceID)
	}

	isSubscription := strings.TrimSpace(od.SubscriptionID) != "" && !product.OneTime
	kind := KindOneTimeGrant
	if isSubscription {
		kind = KindSubscriptionGrant
	}

	receipt, err := o.credits.Apply(ctx, Entry{
		Kind:        kind,
		UserID:      od.UserID,
		Amount:      product.Credits,
		OrderNumber: od.OrderNumber(),
		OrderPrice:  od.Price,
		Description: orderDescription(od, product),
		ProductName: product.Name,
		OrderDate:   od.Date,
	})
	duplicate := errors.Is(err, ErrDuplicateOrder)
	if err != nil && !duplicate {
		return OrderResult{}, err
	}

	result := OrderResult{
		Outcome:       OutcomeOneTimeGranted,
		TransactionID: receipt.TransactionID,
		Credits:       receipt.Delta,
		Balance:       receipt.Balance,
	}
	if duplicate {
		// A redelivery may still owe the subscription row when an earlier
		// attempt failed between the credit grant and the row insert.
		recorded := true
		if isSubscription {
			if recorded, err = o.subs.HasOrder(ctx, od.SubscriptionID, od.OrderNumber()); err != nil {
				return OrderResult{}, err
			}
		}
		if recorded {
			return OrderResult{Outcome: OutcomeDuplicate, Balance: receipt.Balance}, nil
		}
		log.Warnf("[Billing] Order %s was credited without a subscription row, recording it now", od.OrderNumber())
	}
	if !isSubscription {
		return result, nil
	}

	latest, err := o.subs.GetLatest(ctx, od.UserID)
	if err != nil {
		return result, err
	}
	state := ClassifyState(latest, od.SubscriptionID)
	action, ok := Transition(state, paymentEvent(flags.IsRenewal))
	if !ok {
		return result, fmt.Errorf("no transition for state %s", state)
	}

	var n int64
	switch action {
	case ActionSwitchThenRecordNew:
		old := latest.SubscriptionID
		log.Infof("[Billing] User %s switches subscription %s -> %s", od.UserID, old, od.SubscriptionID)
		o.provider.CancelAtProvider(ctx, old)
		if _, err := o.subs.Cancel(ctx, old); err != nil {
			return result, err
		}
		n, err = o.subs.RecordNew(ctx, od, product.PriceID)
		result.Outcome = OutcomeSubscriptionSwitch
	case ActionRecordNew:
		n, err = o.subs.RecordNew(ctx, od, product.PriceID)
		result.Outcome = OutcomeSubscriptionNew
	case ActionRecordRenewal:
		n, err = o.subs.RecordRenewal(ctx, od, product.PriceID)
		result.Outcome = OutcomeSubscriptionRenewal
	}
	if err != nil {
		return result, err
	}
	result.RowsAffected = n
	return result, nil
}

func (o *Orchestrator) processTrial(ctx context.Context, od OrderDetail) (OrderResult, error) {
	if strings.TrimSpace(od.UserID) == "" || strings.TrimSpace(od.SubscriptionID) == "" {
		log.Infof("[Billing] Skipping trial without user or subscription id (subscription %q)", od.SubscriptionID)
		return OrderResult{}, fmt.Errorf("%w: trial needs user and subscription id", ErrMissingCorrelation)
	}
	product, ok := o.catalog.Resolve(od.PriceID)
	if !ok || product.OneTime {
		log.Infof("[Billing] Skipping trial %s: price %q not a subscription price", od.SubscriptionID, od.PriceID)
		return OrderResult{}, fmt.Errorf("%w: %w %q", ErrMissingCorrelation, ErrUnknownPrice, od.PriceID)
	}

	orderNumber := trialOrderNumber(od.SubscriptionID)
	od.InvoiceID = ""
	od.TransactionID = orderNumber
	od.Price = decimal.Zero

	receipt, err := o.credits.Apply(ctx, Entry{
		Kind:        KindTrialGrant,
		UserID:      od.UserID,
		Amount:      o.catalog.TrialCredits(),
		OrderNumber: orderNumber,
		OrderPrice:  decimal.Zero,
		Description: fmt.Sprintf("trial credits for %s (%s)", product.Name, od.SubscriptionID),
		ProductName: product.Name,
		OrderDate:   od.Date,
	})
	duplicate := errors.Is(err, ErrDuplicateOrder)
	if err != nil && !duplicate {
		return OrderResult{}, err
	}

	// RecordTrial skips subscriptions that already have a row, which also
	// fills in a row an earlier failed attempt left behind.
	n, err := o.subs.RecordTrial(ctx, od, od.SubscriptionID, product.PriceID)
	if err != nil {
		return OrderResult{}, err
	}
	if duplicate {
		if n == 0 {
			return OrderResult{Outcome: OutcomeDuplicate, Balance: receipt.Balance}, nil
		}
		log.Warnf("[Billing] Trial %s was credited without a subscription row, recorded it now", od.SubscriptionID)
		return OrderResult{Outcome: OutcomeTrialGranted, Balance: receipt.Balance, RowsAffected: n}, nil
	}
	return OrderResult{
		Outcome:       OutcomeTrialGranted,
		TransactionID: receipt.TransactionID,
		Credits:       receipt.Delta,
		Balance:       receipt.Balance,
		RowsAffected:  n,
	}, nil
}

// Refund revokes the credits a refunded charge granted, never below zero. A
// partial refund revokes the refunded share of the credits, less what earlier
// refunds of the same charge revoked. The charge id and refunded amount key
// the ledger row, so redelivered refunds are no-ops.
func (o *Orchestrator) Refund(ctx context.Context, rd RefundDetail) (OrderResult, error) {
	if err := rd.Validate(); err != nil {
		log.Infof("[Billing] Skipping refund %s: %v", rd.ChargeID, err)
		return OrderResult{}, fmt.Errorf("%w: %v", ErrMissingCorrelation, err)
	}
	product, ok := o.resolveProduct(ctx, rd.InvoiceID, rd.PriceID)
	if !ok {
		log.Infof("[Billing] Skipping refund %s: no product for invoice %q / price %q", rd.ChargeID, rd.InvoiceID, rd.PriceID)
		return OrderResult{}, fmt.Errorf("%w: %w %q", ErrMissingCorrelation, ErrUnknownPrice, rd.PriceID)
	}

	target, orderNumber := refundShare(product.Credits, rd)
	revoked, seen, err := o.credits.ChargeRevocations(ctx, rd.UserID, rd.ChargeID, orderNumber)
	if err != nil {
		return OrderResult{}, err
	}
	before, err := o.credits.Balance(ctx, rd.UserID)
	if err != nil {
		return OrderResult{}, err
	}
	if seen {
		log.Infof("[Billing] Refund %s already recorded for user %s, skipping", orderNumber, rd.UserID)
		return OrderResult{Outcome: OutcomeDuplicate, Balance: before}, nil
	}
	amount := target - revoked
	if amount <= 0 {
		log.Infof("[Billing] Refund %s revokes nothing: %d of %d credits already revoked", orderNumber, revoked, target)
		return OrderResult{Outcome: OutcomeRefunded, Balance: before}, nil
	}

	receipt, err := o.credits.Apply(ctx, Entry{
		Kind:        KindChargeRefund,
		UserID:      rd.UserID,
		Amount:      amount,
		OrderNumber: orderNumber,
		OrderPrice:  rd.Amount,
		Description: fmt.Sprintf("refund of charge %s for %s (balance before %d)", rd.ChargeID, product.Name, before),
		ProductName: product.Name,
		OrderDate:   rd.Date,
	})
	if errors.Is(err, ErrDuplicateOrder) {
		return OrderResult{Outcome: OutcomeDuplicate, Balance: receipt.Balance}, nil
	}
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{
		Outcome:       OutcomeRefunded,
		TransactionID: receipt.TransactionID,
		Credits:       receipt.Delta,
		Balance:       receipt.Balance,
	}, nil
}

const chargeRefundPrefix = "refund_"

// refundShare returns the credits a charge's refunds should have revoked in
// total and the order number of this refund. A full refund keeps the bare
// refund_<charge> number; a partial one is keyed by the amount refunded so
// far, so each later partial refund gets its own row.
func refundShare(credits int64, rd RefundDetail) (int64, string) {
	orderNumber := chargeRefundPrefix + rd.ChargeID
	if !rd.ChargeAmount.IsPositive() || !rd.Amount.IsPositive() || rd.Amount.GreaterThanOrEqual(rd.ChargeAmount) {
		return credits, orderNumber
	}
	share := decimal.NewFromInt(credits).Mul(rd.Amount).Div(rd.ChargeAmount).IntPart()
	return share, orderNumber + "_" + rd.Amount.Shift(2).String()
}

// Cancel marks the subscription's latest live row cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, subscriptionID string) (OrderResult, error) {
	n, err := o.subs.Cancel(ctx, subscriptionID)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{Outcome: OutcomeCancelled, RowsAffected: n}, nil
}

func orderDescription(od OrderDetail, p Product) string {
	if d := strings.TrimSpace(od.Description); d != "" {
		return d
	}
	return p.Name
}
