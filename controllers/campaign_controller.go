package controller

import (
	"log"

	"recompose/models"
	"recompose/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCampaignController(db *gorm.DB, logger *log.Logger) *CampaignController {
	return &CampaignController{DB: db, Logger: logger}
}

type StepInput struct {
	StepNumber      int    `json:"step_number" validate:"required,min=1"`
	SubjectTemplate string `json:"subject_template" validate:"required,max=255"`
	BodyTemplate    string `json:"body_template" validate:"required"`
	DelayDays       int    `json:"delay_days" validate:"min=0"`
	DelayHours      int    `json:"delay_hours" validate:"min=0,max=23"`
}

type CreateCampaignInput struct {
	Name        string      `json:"name" validate:"required,max=255"`
	Description string      `json:"description" validate:"max=5000"`
	ContactIDs  []uint      `json:"contact_ids" validate:"required,min=1"`
	Steps       []StepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateCampaign creates a campaign in Draft status with its steps and one
// progress row per contact.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var plan models.Plan
	if err := cc.DB.Where("name = ?", user.PlanName).First(&plan).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load plan", err)
	}
	if !plan.CampaignsEnabled {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Campaigns require the pro plan", nil)
	}

	var input CreateCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	steps := make([]models.CampaignStep, 0, len(input.Steps))
	for _, s := range input.Steps {
		steps = append(steps, models.CampaignStep{
			StepNumber:      s.StepNumber,
			SubjectTemplate: s.SubjectTemplate,
			BodyTemplate:    s.BodyTemplate,
			DelayDays:       s.DelayDays,
			DelayHours:      s.DelayHours,
		})
	}
	if err := models.ValidateSteps(steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	// All contacts must exist, belong to the caller and carry a sane address
	var contacts []models.Contact
	if err := cc.DB.Where("id IN ? AND user_id = ?", input.ContactIDs, user.ID).Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load contacts", err)
	}
	if len(contacts) != len(input.ContactIDs) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "One or more contacts not found", nil)
	}
	// Contacts flagged by earlier bounce or unsubscribe events are skipped
	recipients := make([]models.Contact, 0, len(contacts))
	for _, contact := range contacts {
		if contact.IsUnsubscribed || contact.IsBounced {
			continue
		}
		if err := checkmail.ValidateFormat(contact.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact "+contact.Email+" has an invalid address", nil)
		}
		recipients = append(recipients, contact)
	}
	if len(recipients) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "All selected contacts have unsubscribed or bounced", nil)
	}

	campaign := models.Campaign{
		UserID:          user.ID,
		Name:            input.Name,
		Description:     input.Description,
		Status:          models.CampaignDraft,
		Steps:           steps,
		TotalRecipients: len(recipients),
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}
		for _, contact := range recipients {
			row := models.RecipientProgress{
				CampaignID: campaign.ID,
				ContactID:  contact.ID,
				Status:     models.RecipientPending,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}

	cc.Logger.Printf("User %d created campaign %d with %d recipients", user.ID, campaign.ID, len(recipients))
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

// ListCampaigns returns the caller's campaigns, newest first.
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}

	query := cc.DB.Model(&models.Campaign{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count campaigns", err)
	}

	var campaigns []models.Campaign
	if err := query.Preload("Steps").
		Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list campaigns", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: campaigns, Total: total, Page: page, Limit: limit})
}

// GetCampaign returns one campaign with its steps and recipient statistics.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if err := cc.DB.Preload("Steps").First(campaign, campaign.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", err)
	}

	stats, err := cc.campaignStats(campaign.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load stats", err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"campaign": campaign,
		"stats":    stats,
	})
}

type UpdateCampaignInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
}

// UpdateCampaign edits name/description. Only Draft campaigns are mutable.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if !campaign.CanEditSteps() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only draft campaigns can be edited", nil)
	}

	var input UpdateCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.Description != nil {
		campaign.Description = *input.Description
	}
	if err := cc.DB.Save(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// DeleteCampaign removes a campaign. Only Draft and Cancelled campaigns may
// be deleted; progress rows for launched campaigns are audit data.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignCancelled {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only draft or cancelled campaigns can be deleted", nil)
	}

	if err := cc.DB.Select("Steps", "Recipients").Delete(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListRecipients returns a campaign's progress rows with contact details.
func (cc *CampaignController) ListRecipients(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}

	query := cc.DB.Model(&models.RecipientProgress{}).Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count recipients", err)
	}

	var rows []models.RecipientProgress
	if err := query.Preload("Contact").
		Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list recipients", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: rows, Total: total, Page: page, Limit: limit})
}

func (cc *CampaignController) ownedCampaign(id string, userID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", utils.ParseUint(id), userID).First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// campaignStats aggregates recipient rows by status plus total opens/clicks.
func (cc *CampaignController) campaignStats(campaignID uint) (fiber.Map, error) {
	type statusCount struct {
		Status models.RecipientStatus
		Count  int64
	}
	var counts []statusCount
	if err := cc.DB.Model(&models.RecipientProgress{}).
		Select("status, count(id) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, err
	}

	stats := fiber.Map{
		"total_recipients": int64(0),
		"pending":          int64(0),
		"sending":          int64(0),
		"sent":             int64(0),
		"bounced":          int64(0),
		"unsubscribed":     int64(0),
		"completed":        int64(0),
		"failed":           int64(0),
	}
	var totalRecipients int64
	for _, row := range counts {
		stats[string(row.Status)] = row.Count
		totalRecipients += row.Count
	}
	stats["total_recipients"] = totalRecipients

	type sums struct {
		Opens  int64
		Clicks int64
	}
	var s sums
	if err := cc.DB.Model(&models.RecipientProgress{}).
		Select("coalesce(sum(open_count),0) as opens, coalesce(sum(click_count),0) as clicks").
		Where("campaign_id = ?", campaignID).
		Scan(&s).Error; err != nil {
		return nil, err
	}
	stats["total_opens"] = s.Opens
	stats["total_clicks"] = s.Clicks
	return stats, nil
}
