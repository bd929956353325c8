package controller

import (
	"encoding/json"
	"log"
	"time"

	"recompose/models"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BillingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewBillingController(db *gorm.DB, logger *log.Logger) *BillingController {
	return &BillingController{DB: db, Logger: logger}
}

type CheckoutInput struct {
	PlanName   string `json:"plan_name" validate:"required,oneof=standard pro"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

// ListPlans returns the available subscription tiers.
func (bc *BillingController) ListPlans(c *fiber.Ctx) error {
	var plans []models.Plan
	if err := bc.DB.Order("price_cents ASC").Find(&plans).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load plans", err)
	}
	return c.JSON(utils.SuccessResponse(plans))
}

// CreateCheckoutSession starts a Stripe Checkout flow for a plan upgrade.
func (bc *BillingController) CreateCheckoutSession(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input CheckoutInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var plan models.Plan
	if err := bc.DB.Where("name = ?", input.PlanName).First(&plan).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Plan not found", err)
	}
	if plan.StripePriceID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Plan is not purchasable", nil)
	}

	customerID, err := bc.getOrCreateStripeCustomer(user)
	if err != nil {
		bc.Logger.Printf("stripe customer creation failed for user %d: %v", user.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start checkout", err)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(plan.StripePriceID), Quantity: stripe.Int64(1)},
		},
		Metadata: map[string]string{
			"plan_name": plan.Name,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		bc.Logger.Printf("stripe checkout session failed for user %d: %v", user.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start checkout", err)
	}

	return c.JSON(fiber.Map{"success": true, "checkout_url": sess.URL})
}

func (bc *BillingController) getOrCreateStripeCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	cust, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": utils.FormatUint(user.ID),
		},
	})
	if err != nil {
		return "", err
	}

	if err := bc.DB.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", err
	}
	user.StripeCustomerID = &cust.ID
	return cust.ID, nil
}

// HandleStripeWebhook processes subscription lifecycle events. Each Stripe
// event id passes through the same idempotency ledger as the email provider
// events, so redelivery never double-applies a plan change.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return err
	}

	var count int64
	if err := bc.DB.Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", "stripe", event.ID).
		Count(&count).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check event ledger", err)
	}
	if count > 0 {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	switch event.Type {
	case "checkout.session.completed":
		err = bc.handleCheckoutCompleted(event)
	case "customer.subscription.updated":
		err = bc.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		err = bc.handleSubscriptionDeleted(event)
	default:
		bc.Logger.Printf("ignoring stripe event %s of type %s", event.ID, event.Type)
	}
	if err != nil {
		bc.Logger.Printf("stripe event %s failed: %v", event.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process event", err)
	}

	if err := bc.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.WebhookEvent{
		Provider:   "stripe",
		EventID:    event.ID,
		EventType:  string(event.Type),
		ReceivedAt: time.Now(),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", err)
	}

	return c.JSON(fiber.Map{"received": true})
}

func (bc *BillingController) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}

	planName := sess.Metadata["plan_name"]
	if planName == "" || sess.Customer == nil {
		bc.Logger.Printf("checkout session %s missing plan metadata", sess.ID)
		return nil
	}

	var plan models.Plan
	if err := bc.DB.Where("name = ?", planName).First(&plan).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"plan_id":   plan.ID,
		"plan_name": plan.Name,
	}
	if sess.Subscription != nil {
		updates["stripe_subscription_id"] = sess.Subscription.ID
	}

	return bc.DB.Model(&models.User{}).
		Where("stripe_customer_id = ?", sess.Customer.ID).
		Updates(updates).Error
}

func (bc *BillingController) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}

	priceID := sub.Items.Data[0].Price.ID
	var plan models.Plan
	if err := bc.DB.Where("stripe_price_id = ?", priceID).First(&plan).Error; err != nil {
		bc.Logger.Printf("subscription %s references unknown price %s", sub.ID, priceID)
		return nil
	}

	return bc.DB.Model(&models.User{}).
		Where("stripe_customer_id = ?", sub.Customer.ID).
		Updates(map[string]interface{}{
			"plan_id":                plan.ID,
			"plan_name":              plan.Name,
			"stripe_subscription_id": sub.ID,
		}).Error
}

func (bc *BillingController) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}

	var plan models.Plan
	if err := bc.DB.Where("name = ?", "standard").First(&plan).Error; err != nil {
		return err
	}

	return bc.DB.Model(&models.User{}).
		Where("stripe_customer_id = ?", sub.Customer.ID).
		Updates(map[string]interface{}{
			"plan_id":                plan.ID,
			"plan_name":              plan.Name,
			"stripe_subscription_id": nil,
		}).Error
}
