package controller

import (
	"errors"
	"fmt"
	"time"

	"recompose/models"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LaunchCampaign moves a Draft campaign to Active and seeds every progress
// row with step 1's due time. Requires at least one step and one recipient.
func (cc *CampaignController) LaunchCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	var steps []models.CampaignStep
	if err := cc.DB.Where("campaign_id = ?", campaign.ID).Order("step_number ASC").Find(&steps).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load steps", err)
	}

	var recipientCount int64
	if err := cc.DB.Model(&models.RecipientProgress{}).Where("campaign_id = ?", campaign.ID).Count(&recipientCount).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count recipients", err)
	}

	now := time.Now()
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		return LaunchCampaignTx(tx, campaign, steps, recipientCount, now)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to launch campaign", err)
	}

	cc.Logger.Printf("User %d launched campaign %d with %d recipients", user.ID, campaign.ID, recipientCount)
	return c.JSON(fiber.Map{
		"success":              true,
		"status":               campaign.Status,
		"recipients_scheduled": recipientCount,
	})
}

// LaunchCampaignTx applies the launch transition and recipient seeding
// inside the caller's transaction.
func LaunchCampaignTx(tx *gorm.DB, campaign *models.Campaign, steps []models.CampaignStep, recipientCount int64, now time.Time) error {
	if campaign.Status != models.CampaignDraft {
		return fmt.Errorf("%w: only draft campaigns can be launched, not %s", models.ErrInvalidState, campaign.Status)
	}
	if err := models.ValidateSteps(steps); err != nil {
		return err
	}
	if recipientCount == 0 {
		return fmt.Errorf("%w: add at least one recipient before launching", models.ErrInvalidState)
	}

	if err := campaign.Transition(models.CampaignActive); err != nil {
		return err
	}
	campaign.LaunchedAt = &now
	if err := tx.Save(campaign).Error; err != nil {
		return err
	}

	// Step 1's delay is applied from launch time
	firstDue := now.Add(models.StepByNumber(steps, 1).Delay())
	return tx.Model(&models.RecipientProgress{}).
		Where("campaign_id = ?", campaign.ID).
		Updates(map[string]interface{}{
			"status":              models.RecipientPending,
			"current_step_number": 0,
			"attempt_count":       0,
			"next_send_at":        firstDue,
		}).Error
}

// PauseCampaign suspends scheduling for an Active campaign. Stored due
// times are kept; the dispatcher simply stops claiming the campaign's rows.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	return cc.transitionCampaign(c, models.CampaignPaused, func(campaign *models.Campaign, now time.Time) {
		campaign.PausedAt = &now
	})
}

// ResumeCampaign returns a Paused campaign to Active. Nothing is recomputed:
// rows keep their stored next_send_at, so time spent paused is not added to
// remaining delays.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	return cc.transitionCampaign(c, models.CampaignActive, func(campaign *models.Campaign, _ time.Time) {
		campaign.PausedAt = nil
	})
}

func (cc *CampaignController) transitionCampaign(c *fiber.Ctx, to models.CampaignStatus, mutate func(*models.Campaign, time.Time)) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	if err := campaign.Transition(to); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	mutate(campaign, time.Now())

	if err := cc.DB.Save(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}

	cc.Logger.Printf("User %d moved campaign %d to %s", user.ID, campaign.ID, to)
	return c.JSON(fiber.Map{"success": true, "status": campaign.Status})
}

// CancelCampaign terminates a campaign from any non-terminal status.
// Pending rows become failed so no further claims pick them up; rows already
// claimed by a dispatcher tick are allowed to finish their current step.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	if err := campaign.Transition(models.CampaignCancelled); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(campaign).Error; err != nil {
			return err
		}
		return tx.Model(&models.RecipientProgress{}).
			Where("campaign_id = ? AND status = ?", campaign.ID, models.RecipientPending).
			Updates(map[string]interface{}{
				"status":        models.RecipientFailed,
				"next_send_at":  nil,
				"error_message": "campaign cancelled",
			}).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel campaign", err)
	}

	cc.Logger.Printf("User %d cancelled campaign %d", user.ID, campaign.ID)
	return c.JSON(fiber.Map{"success": true, "status": campaign.Status})
}

// CompleteCampaignIfDone promotes final-step sent rows to completed and
// closes an active campaign once no pending or in-flight rows remain. Runs
// after dispatcher batches and after webhook events that absorb a row, so a
// campaign whose last open row bounces, replies, or unsubscribes still
// reaches Completed without another send. Reports whether the campaign was
// closed by this call.
func CompleteCampaignIfDone(db *gorm.DB, campaignID uint) (bool, error) {
	if err := db.Model(&models.RecipientProgress{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.RecipientSent).
		Update("status", models.RecipientCompleted).Error; err != nil {
		return false, err
	}

	var remaining int64
	if err := db.Model(&models.RecipientProgress{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []models.RecipientStatus{models.RecipientPending, models.RecipientSending}).
		Count(&remaining).Error; err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignActive).
		Update("status", models.CampaignCompleted)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type AddRecipientInput struct {
	ContactID uint `json:"contact_id" validate:"required"`
}

// AddRecipient seeds a progress row for a contact on an already-Active
// campaign, due immediately for step 1.
func (cc *CampaignController) AddRecipient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignActive && campaign.Status != models.CampaignDraft {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Recipients can only be added to draft or active campaigns", nil)
	}

	var input AddRecipientInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", input.ContactID, user.ID).First(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact not found", nil)
	}
	if contact.IsUnsubscribed || contact.IsBounced {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact has unsubscribed or bounced", nil)
	}

	row := models.RecipientProgress{
		CampaignID: campaign.ID,
		ContactID:  contact.ID,
		Status:     models.RecipientPending,
	}
	if campaign.Status == models.CampaignActive {
		row.NextSendAt = utils.Pointer(time.Now())
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(campaign).Update("total_recipients", gorm.Expr("total_recipients + 1")).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact is already in this campaign", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(row))
}
