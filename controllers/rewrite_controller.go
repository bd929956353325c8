package controller

import (
	"log"
	"strings"

	"recompose/models"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type RewriteController struct {
	DB       *gorm.DB
	Quota    *utils.QuotaCounter
	Rewriter utils.Rewriter
	Logger   *log.Logger
}

func NewRewriteController(db *gorm.DB, quota *utils.QuotaCounter, rewriter utils.Rewriter, logger *log.Logger) *RewriteController {
	return &RewriteController{DB: db, Quota: quota, Rewriter: rewriter, Logger: logger}
}

type RewriteInput struct {
	Text string `json:"text" validate:"required,max=20000"`
	Tone string `json:"tone" validate:"required,oneof=professional friendly concise persuasive"`
}

// RewriteEmail runs one tone rewrite against the user's daily quota. The
// quota unit is consumed before the model call; a failed call still counts,
// matching how the upstream service bills us.
func (rc *RewriteController) RewriteEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input RewriteInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	plan, err := rc.userPlan(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load plan", err)
	}

	state, err := rc.Quota.TryConsume(user.ID, plan.DailyRewriteLimit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check quota", err)
	}
	if state.Exceeded {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"error":   "Daily rewrite limit reached",
			"quota":   state,
		})
	}

	result, err := rc.Rewriter.Rewrite(input.Text, input.Tone)
	if err != nil {
		rc.Logger.Printf("rewrite failed for user %d: %v", user.ID, err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Rewrite service unavailable", err)
	}

	entry := models.RewriteLog{
		UserID:    user.ID,
		Tone:      input.Tone,
		WordCount: len(strings.Fields(input.Text)),
		TokenUsed: result.TokensUsed,
	}
	if err := rc.DB.Create(&entry).Error; err != nil {
		rc.Logger.Printf("failed to log rewrite for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"rewritten": result.Text,
		"tone":      input.Tone,
		"quota":     state,
	})
}

// GetUsage reports today's rewrite and send usage without consuming quota.
func (rc *RewriteController) GetUsage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	plan, err := rc.userPlan(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load plan", err)
	}

	rewriteState, err := rc.Quota.Peek(user.ID, plan.DailyRewriteLimit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read usage", err)
	}

	// The dispatcher's send counter lives under its own scope
	sendQuota := *rc.Quota
	sendQuota.Scope = "send"
	sendState, err := sendQuota.Peek(user.ID, plan.DailySendLimit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read usage", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"plan":    plan.Name,
		"rewrite": rewriteState,
		"send":    sendState,
	})
}

func (rc *RewriteController) userPlan(user *models.User) (*models.Plan, error) {
	var plan models.Plan
	if err := rc.DB.Where("name = ?", user.PlanName).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
