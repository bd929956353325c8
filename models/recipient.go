package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecipientStatus enumerates a recipient's progress through a campaign.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	// RecipientSending marks a row claimed by a dispatcher instance. The claim
	// is taken with a conditional update so two dispatchers can never hold the
	// same row.
	RecipientSending      RecipientStatus = "sending"
	RecipientSent         RecipientStatus = "sent"
	RecipientBounced      RecipientStatus = "bounced"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
	RecipientCompleted    RecipientStatus = "completed"
	RecipientFailed       RecipientStatus = "failed"
)

// IsAbsorbing reports whether the status permanently excludes the row from
// any further sends, regardless of campaign status.
func (s RecipientStatus) IsAbsorbing() bool {
	switch s {
	case RecipientBounced, RecipientUnsubscribed, RecipientCompleted, RecipientFailed:
		return true
	}
	return false
}

// RecipientProgress is the durable per-(campaign, contact) cursor: which step
// is next and when it is due. Rows are created at launch (or when a contact
// is added to an active campaign), mutated only by the dispatcher and the
// webhook path, and never deleted.
type RecipientProgress struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"campaign_id"`
	ContactID  uint `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"contact_id"`

	// CurrentStepNumber is the last step sent; 0 means nothing sent yet.
	CurrentStepNumber int             `gorm:"not null;default:0" json:"current_step_number"`
	Status            RecipientStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	// NextSendAt is set only while Status is pending.
	NextSendAt   *time.Time `gorm:"index" json:"next_send_at"`
	LastSentAt   *time.Time `json:"last_sent_at"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`

	// LastSendToken is the opaque id embedded in the most recent outbound
	// message, correlating inbound pixel/click requests back to this row.
	LastSendToken *string `gorm:"uniqueIndex" json:"last_send_token,omitempty"`
	LastMessageID string  `gorm:"index" json:"last_message_id,omitempty"`

	RepliedAt    *time.Time `json:"replied_at"`
	OpenCount    int        `gorm:"not null;default:0" json:"open_count"`
	ClickCount   int        `gorm:"not null;default:0" json:"click_count"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// Relations
	Campaign Campaign `json:"-"`
	Contact  Contact  `json:"-"`
}

// NewTrackingToken mints a fresh opaque token for the next send.
func NewTrackingToken() string {
	return uuid.New().String()
}
