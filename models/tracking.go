package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventType enumerates tracked email events.
type EventType string

const (
	EventOpen   EventType = "open"
	EventClick  EventType = "click"
	EventBounce EventType = "bounce"
	EventReply  EventType = "reply"
)

// TrackingEvent is one row of the append-only tracking ledger. The unique
// DedupeKey collapses repeats of the same event within a calendar day; only
// the first insert of a day bumps the aggregate counters.
type TrackingEvent struct {
	gorm.Model
	RecipientProgressID uint      `gorm:"not null;index" json:"recipient_progress_id"`
	StepNumber          int       `gorm:"not null" json:"step_number"`
	EventType           EventType `gorm:"type:varchar(10);not null;index" json:"event_type"`
	OccurredAt          time.Time `gorm:"not null" json:"occurred_at"`
	DedupeKey           string    `gorm:"not null;uniqueIndex" json:"dedupe_key"`

	// Request metadata where available (pixel/click hits)
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Link      string `json:"link,omitempty"`

	RecipientProgress RecipientProgress `json:"-"`
}

// DedupeKey derives the per-day deduplication key for an event.
func DedupeKey(recipientProgressID uint, stepNumber int, eventType EventType, occurredAt time.Time) string {
	return fmt.Sprintf("%d:%d:%s:%s", recipientProgressID, stepNumber, eventType, occurredAt.UTC().Format("2006-01-02"))
}
