package models

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is the idempotency ledger for inbound provider notifications.
// A row is written only after the event has been fully handled, so a crash
// mid-handling causes a safe retry rather than silent loss.
type WebhookEvent struct {
	gorm.Model
	Provider   string    `gorm:"not null;uniqueIndex:idx_provider_event" json:"provider"`
	EventID    string    `gorm:"not null;uniqueIndex:idx_provider_event" json:"event_id"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
}
