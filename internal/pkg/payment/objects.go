package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys set on checkout sessions, payment intents and subscriptions.
const (
	MetaUserID    = "userId"
	MetaPriceID   = "priceId"
	MetaProjectID = "projectId"
	MetaIsTrial   = "isTrial"
	MetaPlanType  = "planType"
)

// BillingReasonSubscriptionCreate marks the first invoice of a subscription.
const BillingReasonSubscriptionCreate = "subscription_create"

// Meta returns the first non-empty value among keys. Both camelCase and
// snake_case spellings are accepted.
func Meta(m map[string]string, key string) string {
	if m == nil {
		return ""
	}
	if v := strings.TrimSpace(m[key]); v != "" {
		return v
	}
	return strings.TrimSpace(m[snakeCase(key)])
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// expandable decodes a field that is either an id string or an expanded
// object with an id.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func unixTimePtr(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// MinorUnits converts an amount in the currency's minor unit to a decimal.
func MinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// Invoice is the subset of a provider invoice the reconciliation needs.
type Invoice struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	BillingReason   string
	Status          string
	Currency        string
	AmountPaid      int64
	Created         time.Time
	PriceIDs        []string
	Metadata        map[string]string
	// SubscriptionMetadata is the subscription's metadata as copied onto the
	// invoice. It is empty on older API versions.
	SubscriptionMetadata map[string]string
}

// IsFirstInvoice reports whether the invoice opened its subscription.
func (i *Invoice) IsFirstInvoice() bool {
	return i.BillingReason == BillingReasonSubscriptionCreate
}

type rawInvoice struct {
	ID            string            `json:"id"`
	Customer      expandable        `json:"customer"`
	Subscription  expandable        `json:"subscription"`
	PaymentIntent expandable        `json:"payment_intent"`
	BillingReason string            `json:"billing_reason"`
	Status        string            `json:"status"`
	Currency      string            `json:"currency"`
	AmountPaid    int64             `json:"amount_paid"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandable        `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price expandable `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

// ParseInvoice decodes a provider invoice object. The subscription id is read
// from the top-level field or from parent.subscription_details, depending on
// the API version that produced the payload.
func ParseInvoice(raw []byte) (*Invoice, error) {
	var r rawInvoice
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	inv := &Invoice{
		ID:              r.ID,
		CustomerID:      r.Customer.ID,
		SubscriptionID:  r.Subscription.ID,
		PaymentIntentID: r.PaymentIntent.ID,
		BillingReason:   r.BillingReason,
		Status:          r.Status,
		Currency:        r.Currency,
		AmountPaid:      r.AmountPaid,
		Created:         unixTime(r.Created),
		Metadata:        r.Metadata,
	}
	if r.Parent != nil && r.Parent.SubscriptionDetails != nil {
		if inv.SubscriptionID == "" {
			inv.SubscriptionID = r.Parent.SubscriptionDetails.Subscription.ID
		}
		inv.SubscriptionMetadata = r.Parent.SubscriptionDetails.Metadata
	}
	if len(inv.SubscriptionMetadata) == 0 && r.SubscriptionDetails != nil {
		inv.SubscriptionMetadata = r.SubscriptionDetails.Metadata
	}

	seen := map[string]struct{}{}
	for _, line := range r.Lines.Data {
		id := ""
		if line.Price != nil {
			id = line.Price.ID
		}
		if id == "" && line.Pricing != nil && line.Pricing.PriceDetails != nil {
			id = line.Pricing.PriceDetails.Price.ID
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		inv.PriceIDs = append(inv.PriceIDs, id)
	}
	return inv, nil
}

// Subscription is the subset of a provider subscription the reconciliation needs.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	Created    time.Time
	TrialStart *time.Time
	TrialEnd   *time.Time
	PriceIDs   []string
	Metadata   map[string]string
}

// IsTrialing reports whether the subscription is inside its trial at now.
func (s *Subscription) IsTrialing(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == "trialing" || (s.TrialEnd != nil && now.Before(*s.TrialEnd))
}

// HasTrialMarkers reports whether the subscription is trialing or was
// checked out as a trial.
func (s *Subscription) HasTrialMarkers(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.IsTrialing(now) || strings.EqualFold(Meta(s.Metadata, MetaIsTrial), "true")
}

type rawSubscription struct {
	ID         string            `json:"id"`
	Customer   expandable        `json:"customer"`
	Status     string            `json:"status"`
	Created    int64             `json:"created"`
	TrialStart *int64            `json:"trial_start"`
	TrialEnd   *int64            `json:"trial_end"`
	Metadata   map[string]string `json:"metadata"`
	Items      struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func ParseSubscription(raw []byte) (*Subscription, error) {
	var r rawSubscription
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	sub := &Subscription{
		ID:         r.ID,
		CustomerID: r.Customer.ID,
		Status:     r.Status,
		Created:    unixTime(r.Created),
		TrialStart: unixTimePtr(r.TrialStart),
		TrialEnd:   unixTimePtr(r.TrialEnd),
		Metadata:   r.Metadata,
	}
	for _, item := range r.Items.Data {
		if item.Price.ID != "" {
			sub.PriceIDs = append(sub.PriceIDs, item.Price.ID)
		}
	}
	return sub, nil
}

// PaymentIntent is the subset of a provider payment intent the reconciliation needs.
type PaymentIntent struct {
	ID          string
	CustomerID  string
	InvoiceID   string
	Description string
	Currency    string
	Status      string
	Amount      int64
	Created     time.Time
	Metadata    map[string]string
}

type rawPaymentIntent struct {
	ID          string            `json:"id"`
	Customer    expandable        `json:"customer"`
	Invoice     expandable        `json:"invoice"`
	Description string            `json:"description"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	Created     int64             `json:"created"`
	Metadata    map[string]string `json:"metadata"`
}

func ParsePaymentIntent(raw []byte) (*PaymentIntent, error) {
	var r rawPaymentIntent
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &PaymentIntent{
		ID:          r.ID,
		CustomerID:  r.Customer.ID,
		InvoiceID:   r.Invoice.ID,
		Description: r.Description,
		Currency:    r.Currency,
		Status:      r.Status,
		Amount:      r.Amount,
		Created:     unixTime(r.Created),
		Metadata:    r.Metadata,
	}, nil
}

// Charge is the subset of a provider charge the refund flow needs.
type Charge struct {
	ID              string
	CustomerID      string
	PaymentIntentID string
	InvoiceID       string
	Amount          int64
	AmountRefunded  int64
	Refunded        bool
	Created         time.Time
	Metadata        map[string]string
}

type rawCharge struct {
	ID             string            `json:"id"`
	Customer       expandable        `json:"customer"`
	PaymentIntent  expandable        `json:"payment_intent"`
	Invoice        expandable        `json:"invoice"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Refunded       bool              `json:"refunded"`
	Created        int64             `json:"created"`
	Metadata       map[string]string `json:"metadata"`
}

func ParseCharge(raw []byte) (*Charge, error) {
	var r rawCharge
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}
	return &Charge{
		ID:              r.ID,
		CustomerID:      r.Customer.ID,
		PaymentIntentID: r.PaymentIntent.ID,
		InvoiceID:       r.Invoice.ID,
		Amount:          r.Amount,
		AmountRefunded:  r.AmountRefunded,
		Refunded:        r.Refunded,
		Created:         unixTime(r.Created),
		Metadata:        r.Metadata,
	}, nil
}
