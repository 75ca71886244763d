package billing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PalmLedger/app/models"
)

// DefaultTrialCredits is granted once per trial subscription.
const DefaultTrialCredits int64 = 300

// Product is what a provider price id buys.
type Product struct {
	PriceID string                  `json:"price_id"`
	Plan    models.PlanType         `json:"plan"`
	Cadence models.SubscriptionType `json:"cadence"`
	Credits int64                   `json:"credits"`
	Price   decimal.Decimal         `json:"price"`
	Name    string                  `json:"name"`
	// OneTime marks credit packs sold outside a subscription.
	OneTime bool `json:"one_time"`
}

// Catalog maps provider price ids to products. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	products     map[string]Product
	trialCredits int64
	trialPlans   []models.PlanType
}

type catalogFile struct {
	TrialCredits int64     `json:"trial_credits"`
	Products     []Product `json:"products"`
}

var defaultProducts = []Product{
	{PriceID: "price_basic_monthly", Plan: models.PlanBasic, Cadence: models.SubscriptionTypeMonthly, Credits: 3000, Price: decimal.RequireFromString("9.99"), Name: "Basic Monthly"},
	{PriceID: "price_basic_annual", Plan: models.PlanBasic, Cadence: models.SubscriptionTypeAnnual, Credits: 36000, Price: decimal.RequireFromString("95.88"), Name: "Basic Annual"},
	{PriceID: "price_premium_monthly", Plan: models.PlanPremium, Cadence: models.SubscriptionTypeMonthly, Credits: 8000, Price: decimal.RequireFromString("19.99"), Name: "Premium Monthly"},
	{PriceID: "price_premium_annual", Plan: models.PlanPremium, Cadence: models.SubscriptionTypeAnnual, Credits: 96000, Price: decimal.RequireFromString("191.88"), Name: "Premium Annual"},
	{PriceID: "price_professional_monthly", Plan: models.PlanProfessional, Cadence: models.SubscriptionTypeMonthly, Credits: 15000, Price: decimal.RequireFromString("29.99"), Name: "Professional Monthly"},
	{PriceID: "price_professional_annual", Plan: models.PlanProfessional, Cadence: models.SubscriptionTypeAnnual, Credits: 180000, Price: decimal.RequireFromString("287.88"), Name: "Professional Annual"},
	{PriceID: "price_business_monthly", Plan: models.PlanBusiness, Cadence: models.SubscriptionTypeMonthly, Credits: 30000, Price: decimal.RequireFromString("49.99"), Name: "Business Monthly"},
	{PriceID: "price_credits_1000", Credits: 1000, Price: decimal.RequireFromString("4.99"), Name: "1000 Credits", OneTime: true},
	{PriceID: "price_credits_5000", Credits: 5000, Price: decimal.RequireFromString("19.99"), Name: "5000 Credits", OneTime: true},
}

// Plans that count towards trial usage. Business-tier rows are excluded.
var trialEligiblePlans = []models.PlanType{models.PlanBasic, models.PlanPremium, models.PlanProfessional}

// NewCatalog validates products and builds a catalog. A trialCredits value
// of zero or less selects DefaultTrialCredits.
func NewCatalog(products []Product, trialCredits int64) (*Catalog, error) {
	if trialCredits <= 0 {
		trialCredits = DefaultTrialCredits
	}
	c := &Catalog{
		products:     make(map[string]Product, len(products)),
		trialCredits: trialCredits,
		trialPlans:   append([]models.PlanType(nil), trialEligiblePlans...),
	}
	for _, p := range products {
		p.PriceID = strings.TrimSpace(p.PriceID)
		if p.PriceID == "" {
			return nil, fmt.Errorf("catalog: product %q has no price id", p.Name)
		}
		if _, dup := c.products[p.PriceID]; dup {
			return nil, fmt.Errorf("catalog: duplicate price id %q", p.PriceID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("catalog: price %q grants no credits", p.PriceID)
		}
		if !p.OneTime {
			if !validPlan(p.Plan) {
				return nil, fmt.Errorf("catalog: price %q has unknown plan %q", p.PriceID, p.Plan)
			}
			if !validCadence(p.Cadence) {
				return nil, fmt.Errorf("catalog: price %q has unknown cadence %q", p.PriceID, p.Cadence)
			}
		}
		c.products[p.PriceID] = p
	}
	return c, nil
}

// DefaultCatalog returns the built-in price list.
func DefaultCatalog(trialCredits int64) *Catalog {
	c, err := NewCatalog(defaultProducts, trialCredits)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a JSON price list from path. A trial_credits value in the
// file wins over trialCredits.
func LoadCatalog(path string, trialCredits int64) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if f.TrialCredits > 0 {
		trialCredits = f.TrialCredits
	}
	return NewCatalog(f.Products, trialCredits)
}

// Resolve looks up a single price id.
func (c *Catalog) Resolve(priceID string) (Product, bool) {
	p, ok := c.products[strings.TrimSpace(priceID)]
	return p, ok
}

// ResolveAny returns the first known product among priceIDs.
func (c *Catalog) ResolveAny(priceIDs ...string) (Product, bool) {
	for _, id := range priceIDs {
		if p, ok := c.Resolve(id); ok {
			return p, true
		}
	}
	return Product{}, false
}

// IsAnnual reports whether priceID is an annual subscription price.
func (c *Catalog) IsAnnual(priceID string) bool {
	p, ok := c.Resolve(priceID)
	return ok && !p.OneTime && p.Cadence == models.SubscriptionTypeAnnual
}

func (c *Catalog) TrialCredits() int64 {
	return c.trialCredits
}

// TrialPlans returns the plans whose trials count as used.
func (c *Catalog) TrialPlans() []models.PlanType {
	return append([]models.PlanType(nil), c.trialPlans...)
}

// Products returns all products, unordered.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	return out
}

var planKeywords = []struct {
	keyword string
	plan    models.PlanType
}{
	{"professional", models.PlanProfessional},
	{"business", models.PlanBusiness},
	{"premium", models.PlanPremium},
	{"basic", models.PlanBasic},
}

var planPrices = []struct {
	price decimal.Decimal
	plan  models.PlanType
}{
	{decimal.RequireFromString("9.99"), models.PlanBasic},
	{decimal.RequireFromString("19.99"), models.PlanPremium},
	{decimal.RequireFromString("29.99"), models.PlanProfessional},
	{decimal.RequireFromString("49.99"), models.PlanBusiness},
}

// InferPlan derives a plan for rows that carry no price mapping. The explicit
// plan type wins, then a case-insensitive keyword in desc, then an exact
// price match.
func InferPlan(planType, desc string, price decimal.Decimal) (models.PlanType, bool) {
	if p := models.PlanType(strings.ToLower(strings.TrimSpace(planType))); validPlan(p) {
		return p, true
	}
	lower := strings.ToLower(desc)
	for _, k := range planKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.plan, true
		}
	}
	for _, pp := range planPrices {
		if pp.price.Equal(price) {
			return pp.plan, true
		}
	}
	return "", false
}

func validPlan(p models.PlanType) bool {
	switch p {
	case models.PlanBasic, models.PlanPremium, models.PlanProfessional, models.PlanBusiness:
		return true
	default:
		return false
	}
}

func validCadence(t models.SubscriptionType) bool {
	switch t {
	case models.SubscriptionTypeMonthly, models.SubscriptionTypeQuarterly, models.SubscriptionTypeAnnual:
		return true
	default:
		return false
	}
}
