package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CampaignStatus enumerates the campaign lifecycle states.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// campaignTransitions is the full transition table. Draft -> Active (launch),
// Active <-> Paused, Active -> Completed, any non-terminal -> Cancelled.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:  {CampaignActive, CampaignCancelled},
	CampaignActive: {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused: {CampaignActive, CampaignCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// Campaign represents a multi-step outbound email campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Status      CampaignStatus `gorm:"type:varchar(20);default:'draft';index" json:"status"`

	LaunchedAt *time.Time `json:"launched_at"`
	PausedAt   *time.Time `json:"paused_at"`

	// Statistics (denormalized for dashboards; the tracking ledger is authoritative)
	TotalRecipients  int `gorm:"default:0" json:"total_recipients"`
	SentCount        int `gorm:"default:0" json:"sent_count"`
	UniqueOpenCount  int `gorm:"default:0" json:"unique_open_count"`
	UniqueClickCount int `gorm:"default:0" json:"unique_click_count"`
	BounceCount      int `gorm:"default:0" json:"bounce_count"`
	ReplyCount       int `gorm:"default:0" json:"reply_count"`
	UnsubscribeCount int `gorm:"default:0" json:"unsubscribe_count"`

	// Relations
	Steps      []CampaignStep      `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	Recipients []RecipientProgress `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
}

// CanTransition reports whether moving to the target status is legal.
func (c *Campaign) CanTransition(to CampaignStatus) bool {
	for _, next := range campaignTransitions[c.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the campaign to the target status or fails without
// mutating anything.
func (c *Campaign) Transition(to CampaignStatus) error {
	if !c.CanTransition(to) {
		return fmt.Errorf("%w: campaign %d cannot go from %s to %s", ErrInvalidState, c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// CanEditSteps reports whether step definitions may be mutated. Steps are
// frozen the moment the campaign leaves Draft.
func (c *Campaign) CanEditSteps() bool {
	return c.Status == CampaignDraft
}

// CampaignStep is one templated email in a campaign sequence, ordered by
// StepNumber starting at 1. The delay is relative to the previous step's
// send time (launch time for step 1).
type CampaignStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_step" json:"campaign_id"`

	StepNumber      int    `gorm:"not null;uniqueIndex:idx_campaign_step" json:"step_number"`
	SubjectTemplate string `gorm:"not null" json:"subject_template"`
	BodyTemplate    string `gorm:"not null;type:text" json:"body_template"`
	DelayDays       int    `gorm:"not null;default:0" json:"delay_days"`
	DelayHours      int    `gorm:"not null;default:0" json:"delay_hours"`
}

// Delay returns the step's relative offset as a duration.
func (s *CampaignStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// ValidateSteps checks that step numbers are unique, gapless and start at 1.
func ValidateSteps(steps []CampaignStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: campaign must have at least one step", ErrInvalidState)
	}
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if step.StepNumber < 1 || step.StepNumber > len(steps) {
			return fmt.Errorf("%w: step numbers must run from 1 to %d", ErrInvalidState, len(steps))
		}
		if seen[step.StepNumber] {
			return fmt.Errorf("%w: duplicate step number %d", ErrInvalidState, step.StepNumber)
		}
		if step.DelayDays < 0 || step.DelayHours < 0 || step.DelayHours > 23 {
			return fmt.Errorf("%w: step %d has an invalid delay", ErrInvalidState, step.StepNumber)
		}
		seen[step.StepNumber] = true
	}
	return nil
}

// StepByNumber returns the step with the given number, or nil.
func StepByNumber(steps []CampaignStep, number int) *CampaignStep {
	for i := range steps {
		if steps[i].StepNumber == number {
			return &steps[i]
		}
	}
	return nil
}
