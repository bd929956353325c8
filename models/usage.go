package models

import (
	"time"

	"gorm.io/gorm"
)

// UsageCounter is the durable per-user, per-period counter backing daily
// quotas (rewrites today; per-user send caps use the same row design).
// Exactly one row exists per (user_id, period_key); increments are atomic so
// two concurrent requests can never both spend the last unit.
type UsageCounter struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index;uniqueIndex:idx_user_period" json:"user_id"`
	PeriodKey string `gorm:"not null;uniqueIndex:idx_user_period" json:"period_key"`
	Count     int    `gorm:"not null;default:0" json:"count"`
}

// PeriodKey buckets a moment into the quota period (one calendar day in the
// reference timezone).
func PeriodKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
