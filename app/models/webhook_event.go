package models

import "time"

const (
	WebhookStatusReceived   = "received"
	WebhookStatusQueued     = "queued"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent stores one externally generated gateway event. The unique
// index on ExternalEventID is the sole idempotency mechanism: a duplicate
// delivery conflicts on insert before any side effect can run. The gate
// moves a row from received to queued once the enqueue succeeds; a row
// stuck in received marks a delivery whose enqueue failed. Rows are never
// deleted (kept for audit and replay debugging).
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_external_id,unique" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status          string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
