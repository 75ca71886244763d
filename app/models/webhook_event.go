package models

import "time"

// Webhook processing outcomes recorded on WebhookEvent.Outcome.
const (
	WebhookOutcomeProcessed      = "processed"
	WebhookOutcomeDuplicate      = "duplicate"
	WebhookOutcomeForeignProject = "foreign_project"
	WebhookOutcomeIgnored        = "ignored"
	WebhookOutcomeSkipped        = "skipped"
	WebhookOutcomeFailed         = "failed"
)

// WebhookEvent is the audit trail of verified provider webhook deliveries.
// It is not the idempotency fence; that lives in the key-value store.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Outcome         string     `gorm:"type:varchar(32);not null;default:'';index" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
