package controller

import (
	"errors"
	"log"
	"time"

	"recompose/models"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackingController(db *gorm.DB, logger *log.Logger) *TrackingController {
	return &TrackingController{DB: db, Logger: logger}
}

// HandleOpenTracking serves the tracking pixel. The pixel is returned no
// matter what: an unknown or stale token must not break image rendering in
// the recipient's mail client.
func (tc *TrackingController) HandleOpenTracking(c *fiber.Ctx) error {
	token := c.Params("token")

	if row, ok := tc.resolveToken(token); ok {
		tc.recordEngagement(row, models.EventOpen, c.IP(), c.Get("User-Agent"), "")
	}

	c.Set("Content-Type", "image/png")
	c.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Send(utils.TransparentPixel())
}

// HandleClickTracking records the click and redirects to the original URL.
// Redirect happens even when the token is unknown; losing analytics is
// acceptable, breaking the recipient's link is not.
func (tc *TrackingController) HandleClickTracking(c *fiber.Ctx) error {
	token := c.Params("token")
	destination := c.Query("to")
	if destination == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing destination", nil)
	}

	if row, ok := tc.resolveToken(token); ok {
		tc.recordEngagement(row, models.EventClick, c.IP(), c.Get("User-Agent"), destination)
	}

	return c.Redirect(destination, fiber.StatusFound)
}

func (tc *TrackingController) resolveToken(token string) (*models.RecipientProgress, bool) {
	if token == "" {
		return nil, false
	}
	var row models.RecipientProgress
	err := tc.DB.Where("last_send_token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false
	}
	if err != nil {
		tc.Logger.Printf("tracking token lookup failed: %v", err)
		return nil, false
	}
	return &row, true
}

// recordEngagement appends the event and, when it is the first of its kind
// for this recipient/step/day, bumps the per-row and campaign aggregates.
// A repeated event on the same day hits the dedupe key and changes nothing.
func (tc *TrackingController) recordEngagement(row *models.RecipientProgress, eventType models.EventType, ip, userAgent, link string) {
	now := time.Now()
	event := models.TrackingEvent{
		RecipientProgressID: row.ID,
		StepNumber:          row.CurrentStepNumber,
		EventType:           eventType,
		OccurredAt:          now,
		DedupeKey:           models.DedupeKey(row.ID, row.CurrentStepNumber, eventType, now),
		IPAddress:           ip,
		UserAgent:           userAgent,
		Link:                link,
	}

	err := tc.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		rowColumn, campaignColumn := "open_count", "unique_open_count"
		if eventType == models.EventClick {
			rowColumn, campaignColumn = "click_count", "unique_click_count"
		}

		if err := tx.Model(&models.RecipientProgress{}).Where("id = ?", row.ID).
			Update(rowColumn, gorm.Expr(rowColumn+" + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).Where("id = ?", row.CampaignID).
			Update(campaignColumn, gorm.Expr(campaignColumn+" + 1")).Error
	})
	if err != nil {
		tc.Logger.Printf("failed to record %s for recipient %d: %v", eventType, row.ID, err)
	}
}
