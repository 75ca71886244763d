package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User carries the cached credit balance. The balance is the source of truth
// for spend checks; the credit ledger is the source of truth for audits.
type User struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name       string    `gorm:"type:varchar(150)" json:"name"`
	Email      string    `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	Role       string    `gorm:"type:varchar(50);default:'user'" json:"role"`
	Status     string    `gorm:"type:varchar(50);default:'active'" json:"status"`
	Credits    int64     `gorm:"not null;default:0" json:"credits"`
	APIKeyHash string    `gorm:"type:char(64);index;default:''" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the account may use the API.
func (u *User) IsActive() bool {
	return u != nil && u.Status == STATUS_ACTIVE
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
