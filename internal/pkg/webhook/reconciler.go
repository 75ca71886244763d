package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/payment"
)

// Orders is the reconciliation surface the handlers drive.
type Orders interface {
	ProcessOrder(ctx context.Context, od billing.OrderDetail, flags billing.OrderFlags) (billing.OrderResult, error)
	Refund(ctx context.Context, rd billing.RefundDetail) (billing.OrderResult, error)
	Cancel(ctx context.Context, subscriptionID string) (billing.OrderResult, error)
}

// Reconciler maps provider events to orders. It implements EventHandler.
type Reconciler struct {
	orders    Orders
	provider  payment.Provider
	projectID string
	now       func() time.Time
}

func NewReconciler(orders Orders, provider payment.Provider, projectID string) *Reconciler {
	return &Reconciler{
		orders:    orders,
		provider:  provider,
		projectID: strings.TrimSpace(projectID),
		now:       time.Now,
	}
}

// PaymentSucceeded grants credits for a paid payment intent. Intents paying
// an invoice are subscription payments; user and price are taken from the
// invoice and its subscription when the intent lacks them.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, ev PaymentSucceeded) (string, error) {
	pi := ev.Intent
	od := billing.OrderDetail{
		UserID:        payment.Meta(pi.Metadata, payment.MetaUserID),
		TransactionID: pi.ID,
		InvoiceID:     pi.InvoiceID,
		PriceID:       payment.Meta(pi.Metadata, payment.MetaPriceID),
		Price:         payment.MinorUnits(pi.Amount),
		Date:          pi.Created,
		CustomerID:    pi.CustomerID,
		Description:   pi.Description,
	}
	isSubscription := pi.InvoiceID != "" || strings.Contains(pi.Description, "Subscription")

	if pi.InvoiceID != "" {
		inv, err := r.provider.GetInvoice(ctx, pi.InvoiceID)
		if err != nil {
			return "", err
		}
		od.SubscriptionID = inv.SubscriptionID
		if od.UserID == "" {
			od.UserID = firstNonEmpty(payment.Meta(inv.SubscriptionMetadata, payment.MetaUserID), payment.Meta(inv.Metadata, payment.MetaUserID))
		}
		if od.PriceID == "" && len(inv.PriceIDs) > 0 {
			od.PriceID = inv.PriceIDs[0]
		}
		if od.CustomerID == "" {
			od.CustomerID = inv.CustomerID
		}
	}

	if isSubscription {
		if od.SubscriptionID == "" {
			log.Infof("[Webhook] Skipping payment %s (event %s): subscription payment without subscription id", pi.ID, ev.EventID)
			return models.WebhookOutcomeSkipped, nil
		}
		sub, err := r.provider.GetSubscription(ctx, od.SubscriptionID)
		if err != nil {
			return "", err
		}
		if od.UserID == "" {
			od.UserID = payment.Meta(sub.Metadata, payment.MetaUserID)
		}
		if od.PriceID == "" {
			od.PriceID = firstNonEmpty(payment.Meta(sub.Metadata, payment.MetaPriceID), first(sub.PriceIDs))
		}
		if sub.IsTrialing(r.now()) {
			log.Infof("[Webhook] Skipping payment %s (event %s): subscription %s is trialing", pi.ID, ev.EventID, sub.ID)
			return models.WebhookOutcomeSkipped, nil
		}
	}

	res, err := r.orders.ProcessOrder(ctx, od, billing.OrderFlags{})
	return outcomeOf(ev.EventID, res, err)
}

// InvoicePaid reconciles a paid subscription invoice as a renewal. The first
// invoice of a trialing subscription is skipped; the trial was granted when
// the subscription was created.
func (r *Reconciler) InvoicePaid(ctx context.Context, ev InvoicePaid) (string, error) {
	inv := ev.Invoice
	if inv.SubscriptionID == "" {
		log.Infof("[Webhook] Ignoring invoice %s (event %s): not a subscription invoice", inv.ID, ev.EventID)
		return models.WebhookOutcomeIgnored, nil
	}

	meta := inv.SubscriptionMetadata
	var sub *payment.Subscription
	needSub := len(meta) == 0 || (inv.IsFirstInvoice() && inv.AmountPaid > 0)
	if needSub {
		s, err := r.provider.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return "", err
		}
		sub = s
		if len(meta) == 0 {
			meta = sub.Metadata
		}
	}
	if !OwnsProject(r.projectID, meta) {
		log.Infof("[Webhook] Skipping invoice %s (event %s): project %q is not ours", inv.ID, ev.EventID, payment.Meta(meta, payment.MetaProjectID))
		return models.WebhookOutcomeForeignProject, nil
	}
	if inv.IsFirstInvoice() && (inv.AmountPaid == 0 || sub.IsTrialing(r.now())) {
		log.Infof("[Webhook] Skipping invoice %s (event %s): first invoice of trialing subscription %s", inv.ID, ev.EventID, inv.SubscriptionID)
		return models.WebhookOutcomeSkipped, nil
	}

	transactionID := inv.PaymentIntentID
	if transactionID == "" {
		transactionID = inv.ID
	}
	od := billing.OrderDetail{
		UserID:         firstNonEmpty(payment.Meta(meta, payment.MetaUserID), payment.Meta(inv.Metadata, payment.MetaUserID)),
		TransactionID:  transactionID,
		InvoiceID:      inv.ID,
		PriceID:        firstNonEmpty(first(inv.PriceIDs), payment.Meta(meta, payment.MetaPriceID)),
		Price:          payment.MinorUnits(inv.AmountPaid),
		Date:           inv.Created,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
	}
	res, err := r.orders.ProcessOrder(ctx, od, billing.OrderFlags{IsRenewal: true})
	return outcomeOf(ev.EventID, res, err)
}

// ChargeRefunded revokes the credits of a refunded charge.
func (r *Reconciler) ChargeRefunded(ctx context.Context, ev ChargeRefunded) (string, error) {
	ch := ev.Charge
	meta := ch.Metadata
	priceID := payment.Meta(meta, payment.MetaPriceID)
	if payment.Meta(meta, payment.MetaUserID) == "" && ch.InvoiceID != "" {
		inv, err := r.provider.GetInvoice(ctx, ch.InvoiceID)
		if err != nil {
			return "", err
		}
		meta = inv.SubscriptionMetadata
		if priceID == "" {
			priceID = first(inv.PriceIDs)
		}
		if len(meta) == 0 && inv.SubscriptionID != "" {
			sub, err := r.provider.GetSubscription(ctx, inv.SubscriptionID)
			if err != nil {
				return "", err
			}
			meta = sub.Metadata
			if priceID == "" {
				priceID = firstNonEmpty(payment.Meta(meta, payment.MetaPriceID), first(sub.PriceIDs))
			}
		}
	}
	if !OwnsProject(r.projectID, meta) {
		log.Infof("[Webhook] Skipping refund of charge %s (event %s): project %q is not ours", ch.ID, ev.EventID, payment.Meta(meta, payment.MetaProjectID))
		return models.WebhookOutcomeForeignProject, nil
	}

	date := ch.Created
	if date.IsZero() {
		date = r.now()
	}
	res, err := r.orders.Refund(ctx, billing.RefundDetail{
		UserID:       payment.Meta(meta, payment.MetaUserID),
		ChargeID:     ch.ID,
		InvoiceID:    ch.InvoiceID,
		PriceID:      priceID,
		Amount:       payment.MinorUnits(ch.AmountRefunded),
		ChargeAmount: payment.MinorUnits(ch.Amount),
		Date:         date,
	})
	return outcomeOf(ev.EventID, res, err)
}

// SubscriptionCreated grants trial credits for trial subscriptions. Paid
// subscriptions are reconciled when their first payment succeeds.
func (r *Reconciler) SubscriptionCreated(ctx context.Context, ev SubscriptionCreated) (string, error) {
	sub := ev.Subscription
	if !sub.HasTrialMarkers(r.now()) {
		log.Infof("[Webhook] Ignoring subscription %s (event %s): not a trial", sub.ID, ev.EventID)
		return models.WebhookOutcomeIgnored, nil
	}
	date := sub.Created
	if date.IsZero() {
		date = r.now()
	}
	res, err := r.orders.ProcessOrder(ctx, billing.OrderDetail{
		UserID:         payment.Meta(sub.Metadata, payment.MetaUserID),
		PriceID:        firstNonEmpty(payment.Meta(sub.Metadata, payment.MetaPriceID), first(sub.PriceIDs)),
		Date:           date,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
	}, billing.OrderFlags{IsTrial: true})
	return outcomeOf(ev.EventID, res, err)
}

func (r *Reconciler) SubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) (string, error) {
	res, err := r.orders.Cancel(ctx, ev.Subscription.ID)
	if err == nil && res.RowsAffected == 0 {
		log.Infof("[Webhook] Subscription %s (event %s) had no live row to cancel", ev.Subscription.ID, ev.EventID)
	}
	return outcomeOf(ev.EventID, res, err)
}

func outcomeOf(eventID string, res billing.OrderResult, err error) (string, error) {
	if errors.Is(err, billing.ErrMissingCorrelation) {
		log.Infof("[Webhook] Skipping event %s: %v", eventID, err)
		return models.WebhookOutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("reconcile event %s: %w", eventID, err)
	}
	if res.Outcome == billing.OutcomeDuplicate {
		return models.WebhookOutcomeDuplicate, nil
	}
	return models.WebhookOutcomeProcessed, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
