package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType values of a subscription row.
const (
	OrderTypeActive    = "1"
	OrderTypeCancelled = "0"
)

type SubscriptionType string

const (
	SubscriptionTypeTrial     SubscriptionType = "trial"
	SubscriptionTypeMonthly   SubscriptionType = "monthly"
	SubscriptionTypeQuarterly SubscriptionType = "quarterly"
	SubscriptionTypeAnnual    SubscriptionType = "annual"
)

// PeriodDays is the billing period length used for validity arithmetic.
func (t SubscriptionType) PeriodDays() int {
	switch t {
	case SubscriptionTypeQuarterly:
		return 90
	case SubscriptionTypeAnnual:
		return 365
	default:
		return 30
	}
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type PlanType string

const (
	PlanBasic        PlanType = "basic"
	PlanPremium      PlanType = "premium"
	PlanProfessional PlanType = "professional"
	PlanBusiness     PlanType = "business"
)

// SubscriptionRecord is one lifecycle row. Rows are appended per trial, new
// subscription, renewal and upgrade; only the latest active row of a
// subscription is ever updated, on cancellation.
type SubscriptionRecord struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	UserID             string             `gorm:"type:varchar(64);not null;index:idx_subscription_records_user_date,priority:1" json:"user_id"`
	OrderNumber        string             `gorm:"type:varchar(191);not null" json:"order_number"`
	SubscriptionID     string             `gorm:"type:varchar(191);not null;index" json:"subscription_id"`
	OrderPrice         decimal.Decimal    `gorm:"type:numeric(10,2);not null;default:0" json:"order_price"`
	CreditAmount       int64              `gorm:"not null;default:0" json:"credit_amount"`
	OrderType          string             `gorm:"type:varchar(1);not null;default:'1'" json:"order_type"`
	OrderDesc          string             `gorm:"type:text" json:"order_desc"`
	OrderDate          time.Time          `gorm:"not null;index:idx_subscription_records_user_date,priority:2,sort:desc" json:"order_date"`
	SubscriptionType   SubscriptionType   `gorm:"type:varchar(16);not null" json:"subscription_type"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(16);not null" json:"subscription_status"`
	TrialStart         *time.Time         `gorm:"default:null" json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `gorm:"default:null" json:"trial_end,omitempty"`
	PlanType           PlanType           `gorm:"type:varchar(32);not null" json:"plan_type"`
	CanceledAt         *time.Time         `gorm:"default:null" json:"canceled_at,omitempty"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveContribution reports whether the row still counts as a live subscription.
func (r *SubscriptionRecord) IsActiveContribution() bool {
	return r != nil && r.OrderType == OrderTypeActive
}
