package models

import (
	"errors"

	"gorm.io/gorm"
)

// ErrInvalidState rejects operations whose state-machine preconditions do
// not hold. Handlers surface the wrapped description to the caller.
var ErrInvalidState = errors.New("invalid state")

// CreateDefaultPlans seeds the subscription tiers.
func CreateDefaultPlans(db *gorm.DB) error {
	defaultPlans := []Plan{
		{
			Name:              "standard",
			Description:       "Standard plan with daily rewrite quota",
			DailyRewriteLimit: 10,
			DailySendLimit:    200,
			PriceCents:        0,
			CampaignsEnabled:  false,
		},
		{
			Name:              "pro",
			Description:       "Pro plan with campaigns and higher quotas",
			DailyRewriteLimit: 100,
			DailySendLimit:    2000,
			PriceCents:        1900, // $19
			CampaignsEnabled:  true,
		},
	}
	for _, plan := range defaultPlans {
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
