package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ErrNotConfigured is returned when no provider secret key is set.
var ErrNotConfigured = errors.New("payment provider not configured")

// Provider is the read/cancel surface the reconciliation needs from the
// payment provider.
type Provider interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
}

// StripeProvider talks to Stripe through the package-level stripe-go clients.
// The client calls are fields so tests can replace them.
type StripeProvider struct {
	configured bool

	getInvoice         func(id string, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	getSubscription    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	cancelSubscription func(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

// NewStripeProvider sets the global stripe key and returns a provider. An
// empty key yields a provider whose calls fail with ErrNotConfigured.
func NewStripeProvider(secretKey string) *StripeProvider {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		fiberlog.Warn("[Payment] STRIPE_SECRET_KEY not set, provider lookups disabled")
	} else {
		stripe.Key = secretKey
	}
	return &StripeProvider{
		configured:         secretKey != "",
		getInvoice:         invoice.Get,
		getSubscription:    subscription.Get,
		cancelSubscription: subscription.Cancel,
	}
}

func (p *StripeProvider) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	if !p.configured {
		return nil, ErrNotConfigured
	}
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := p.getInvoice(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice %s: %w", id, err)
	}
	raw, err := rawJSON(inv.LastResponse)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice %s: %w", id, err)
	}
	return ParseInvoice(raw)
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if !p.configured {
		return nil, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.getSubscription(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", id, err)
	}
	raw, err := rawJSON(sub.LastResponse)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", id, err)
	}
	return ParseSubscription(raw)
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	if !p.configured {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.cancelSubscription(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	fiberlog.Infof("[Payment] cancelled subscription %s at provider", id)
	return nil
}

func rawJSON(resp *stripe.APIResponse) ([]byte, error) {
	if resp == nil || len(resp.RawJSON) == 0 {
		return nil, errors.New("empty provider response")
	}
	return resp.RawJSON, nil
}

// PriceLookup resolves the price ids billed on an invoice.
type PriceLookup struct {
	Provider Provider
}

func (l PriceLookup) InvoicePriceIDs(ctx context.Context, invoiceID string) ([]string, error) {
	if l.Provider == nil || invoiceID == "" {
		return nil, nil
	}
	inv, err := l.Provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return inv.PriceIDs, nil
}
