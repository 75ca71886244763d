package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreditType string

const (
	CreditTypeSubscription CreditType = "subscription"
	CreditTypeOneTime      CreditType = "one_time"
	CreditTypeRefund       CreditType = "refund"
	CreditTypeManualDebit  CreditType = "manual_debit"
	CreditTypeSystemGrant  CreditType = "system_grant"
)

type CreditTransactionType string

const (
	CreditTransactionEarn   CreditTransactionType = "earn"
	CreditTransactionSpend  CreditTransactionType = "spend"
	CreditTransactionRefund CreditTransactionType = "refund"
)

// CreditTransaction is one append-only ledger row. CreditAmount is a signed
// delta: the sum over a user's rows equals the balance the ledger implies.
type CreditTransaction struct {
	ID                    uint                  `gorm:"primaryKey" json:"id"`
	UserID                string                `gorm:"type:varchar(64);not null;index:idx_credit_transactions_user_date,priority:1" json:"user_id"`
	OrderNumber           string                `gorm:"type:varchar(191);not null;uniqueIndex" json:"order_number"`
	OrderPrice            decimal.Decimal       `gorm:"type:numeric(10,2);not null;default:0" json:"order_price"`
	CreditAmount          int64                 `gorm:"not null" json:"credit_amount"`
	CreditType            CreditType            `gorm:"type:varchar(32);not null" json:"credit_type"`
	CreditTransactionType CreditTransactionType `gorm:"type:varchar(16);not null" json:"credit_transaction_type"`
	CreditDesc            string                `gorm:"type:text" json:"credit_desc"`
	OrderDate             time.Time             `gorm:"not null;index:idx_credit_transactions_user_date,priority:2,sort:desc" json:"order_date"`
	ProductName           string                `gorm:"type:varchar(191);default:''" json:"product_name"`
	CreatedAt             time.Time             `gorm:"autoCreateTime" json:"created_at"`
}
