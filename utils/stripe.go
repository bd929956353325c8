package utils

import (
	"time"

	"recompose/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// InitStripe sets the global Stripe API key.
func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// ConstructStripeEvent verifies the Stripe-Signature header and parses the
// webhook payload. Signature failure rejects the request before any state
// change.
func ConstructStripeEvent(c *fiber.Ctx) (stripe.Event, error) {
	payload := c.Body()

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Missing Stripe-Signature header")
	}

	// Tolerance covers clock drift between Stripe and us
	event, err := webhook.ConstructEventWithTolerance(
		payload,
		signature,
		config.AppConfig.StripeWebhookSecret,
		5*time.Minute,
	)
	if err != nil {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Invalid webhook signature")
	}

	return event, nil
}
