package models

import "gorm.io/gorm"

// Plan represents a subscription tier and its quota limits.
type Plan struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"` // standard, pro
	Description string `json:"description"`

	// Daily quotas, enforced via UsageCounter rows
	DailyRewriteLimit int `gorm:"not null;default:10" json:"daily_rewrite_limit"`
	DailySendLimit    int `gorm:"not null;default:200" json:"daily_send_limit"`

	// Stripe integration
	StripePriceID string `json:"stripe_price_id"`
	PriceCents    int    `json:"price_cents"`

	CampaignsEnabled bool `gorm:"default:false" json:"campaigns_enabled"`
}

// RewriteLog records one AI rewrite for usage analytics. The rewrite call
// itself is external; only the token/word accounting lives here.
type RewriteLog struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Tone      string `gorm:"not null" json:"tone"`
	WordCount int    `gorm:"default:0" json:"word_count"`
	TokenUsed int    `gorm:"default:0" json:"token_used"`
}
