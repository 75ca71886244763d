package webhook

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/payment"
)

// Provider event types the dispatcher reconciles. Everything else is
// acknowledged and ignored.
const (
	TypePaymentSucceeded    = "payment_intent.succeeded"
	TypeInvoicePaid         = "invoice.paid"
	TypeChargeRefunded      = "charge.refunded"
	TypeSubscriptionCreated = "customer.subscription.created"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// EventHandler has one method per event variant. Each returns the audit
// outcome of the event (see models.WebhookOutcome*).
type EventHandler interface {
	PaymentSucceeded(ctx context.Context, ev PaymentSucceeded) (string, error)
	InvoicePaid(ctx context.Context, ev InvoicePaid) (string, error)
	ChargeRefunded(ctx context.Context, ev ChargeRefunded) (string, error)
	SubscriptionCreated(ctx context.Context, ev SubscriptionCreated) (string, error)
	SubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) (string, error)
}

// Event is the closed set of reconciled provider events.
type Event interface {
	dispatch(ctx context.Context, h EventHandler) (string, error)
	// metadata returns the metadata carrying the project id, and false when
	// the event does not carry it at the top level.
	metadata() (map[string]string, bool)
}

type PaymentSucceeded struct {
	EventID string
	Intent  *payment.PaymentIntent
}

type InvoicePaid struct {
	EventID string
	Invoice *payment.Invoice
}

type ChargeRefunded struct {
	EventID string
	Charge  *payment.Charge
}

type SubscriptionCreated struct {
	EventID      string
	Subscription *payment.Subscription
}

type SubscriptionDeleted struct {
	EventID      string
	Subscription *payment.Subscription
}

func (e PaymentSucceeded) dispatch(ctx context.Context, h EventHandler) (string, error) {
	return h.PaymentSucceeded(ctx, e)
}

func (e PaymentSucceeded) metadata() (map[string]string, bool) {
	return e.Intent.Metadata, true
}

func (e InvoicePaid) dispatch(ctx context.Context, h EventHandler) (string, error) {
	return h.InvoicePaid(ctx, e)
}

// Invoice metadata lives on the subscription; the handler checks it.
func (e InvoicePaid) metadata() (map[string]string, bool) {
	return nil, false
}

func (e ChargeRefunded) dispatch(ctx context.Context, h EventHandler) (string, error) {
	return h.ChargeRefunded(ctx, e)
}

// Charges of subscription invoices carry no metadata; the handler checks it.
func (e ChargeRefunded) metadata() (map[string]string, bool) {
	return nil, false
}

func (e SubscriptionCreated) dispatch(ctx context.Context, h EventHandler) (string, error) {
	return h.SubscriptionCreated(ctx, e)
}

func (e SubscriptionCreated) metadata() (map[string]string, bool) {
	return e.Subscription.Metadata, true
}

func (e SubscriptionDeleted) dispatch(ctx context.Context, h EventHandler) (string, error) {
	return h.SubscriptionDeleted(ctx, e)
}

func (e SubscriptionDeleted) metadata() (map[string]string, bool) {
	return e.Subscription.Metadata, true
}

// decode maps a verified provider event to its variant. It returns nil for
// event types that are not reconciled.
func decode(event stripe.Event) (Event, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw
	switch string(event.Type) {
	case TypePaymentSucceeded:
		pi, err := payment.ParsePaymentIntent(raw)
		if err != nil {
			return nil, err
		}
		return PaymentSucceeded{EventID: event.ID, Intent: pi}, nil
	case TypeInvoicePaid:
		inv, err := payment.ParseInvoice(raw)
		if err != nil {
			return nil, err
		}
		return InvoicePaid{EventID: event.ID, Invoice: inv}, nil
	case TypeChargeRefunded:
		ch, err := payment.ParseCharge(raw)
		if err != nil {
			return nil, err
		}
		return ChargeRefunded{EventID: event.ID, Charge: ch}, nil
	case TypeSubscriptionCreated:
		sub, err := payment.ParseSubscription(raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionCreated{EventID: event.ID, Subscription: sub}, nil
	case TypeSubscriptionDeleted:
		sub, err := payment.ParseSubscription(raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionDeleted{EventID: event.ID, Subscription: sub}, nil
	default:
		return nil, nil
	}
}
