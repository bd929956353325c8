package utils

import (
	"fmt"
	"time"

	"recompose/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaState is the outcome of a quota check. Exhaustion is a value, not an
// error; callers branch on Exceeded.
type QuotaState struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	PeriodKey string `json:"period_key"`
	Exceeded  bool   `json:"exceeded"`
}

// QuotaCounter enforces per-user daily quotas against durable counter rows.
// Safe under concurrent callers: the increment is a single conditional
// UPDATE, so the last unit of quota can never be spent twice.
type QuotaCounter struct {
	DB       *gorm.DB
	Location *time.Location
	Now      func() time.Time

	// Scope namespaces the period key so independent quotas (rewrites,
	// sends) never share a counter row.
	Scope string
}

func NewQuotaCounter(db *gorm.DB, loc *time.Location) *QuotaCounter {
	return &QuotaCounter{DB: db, Location: loc, Now: time.Now}
}

func (q *QuotaCounter) periodKey() string {
	period := models.PeriodKey(q.Now(), q.Location)
	if q.Scope != "" {
		return q.Scope + ":" + period
	}
	return period
}

// NextReset returns the next period boundary (local midnight in the
// reference timezone).
func (q *QuotaCounter) NextReset() time.Time {
	now := q.Now().In(q.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, q.Location).AddDate(0, 0, 1)
}

// TryConsume spends one unit of the user's quota for the current period, or
// reports exhaustion without spending.
func (q *QuotaCounter) TryConsume(userID uint, limit int) (QuotaState, error) {
	period := q.periodKey()

	// Lazily create the period row; a concurrent creator wins harmlessly.
	counter := models.UsageCounter{UserID: userID, PeriodKey: period}
	if err := q.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "period_key"}},
		DoNothing: true,
	}).Create(&counter).Error; err != nil {
		return QuotaState{}, fmt.Errorf("creating usage counter: %w", err)
	}

	res := q.DB.Model(&models.UsageCounter{}).
		Where("user_id = ? AND period_key = ? AND count < ?", userID, period, limit).
		Update("count", gorm.Expr("count + 1"))
	if res.Error != nil {
		return QuotaState{}, fmt.Errorf("incrementing usage counter: %w", res.Error)
	}

	state, err := q.read(userID, period, limit)
	if err != nil {
		return QuotaState{}, err
	}
	state.Exceeded = res.RowsAffected == 0
	return state, nil
}

// Peek reports current usage without consuming.
func (q *QuotaCounter) Peek(userID uint, limit int) (QuotaState, error) {
	period := q.periodKey()
	state, err := q.read(userID, period, limit)
	if err != nil {
		return QuotaState{}, err
	}
	state.Exceeded = state.Remaining == 0
	return state, nil
}

func (q *QuotaCounter) read(userID uint, period string, limit int) (QuotaState, error) {
	var row models.UsageCounter
	err := q.DB.Where("user_id = ? AND period_key = ?", userID, period).First(&row).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return QuotaState{}, fmt.Errorf("reading usage counter: %w", err)
	}

	remaining := limit - row.Count
	if remaining < 0 {
		remaining = 0
	}
	return QuotaState{
		Used:      row.Count,
		Limit:     limit,
		Remaining: remaining,
		PeriodKey: period,
	}, nil
}
