package routes

import (
	"log"
	"os"

	"recompose/config"
	controller "recompose/controllers"
	"recompose/middleware"
	"recompose/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupRoutes wires every controller onto the app. Tracking and webhook
// endpoints stay unauthenticated: mail clients and providers cannot carry a
// bearer token.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	campaignController := controller.NewCampaignController(db, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))
	contactController := controller.NewContactController(db, log.New(os.Stdout, "CONTACT: ", log.LstdFlags))
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACKING: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, config.AppConfig.EmailWebhookSecret, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))
	billingController := controller.NewBillingController(db, log.New(os.Stdout, "BILLING: ", log.LstdFlags))

	quota := utils.NewQuotaCounter(db, config.AppConfig.QuotaLocation())
	rewriter := utils.NewHTTPRewriter(
		os.Getenv("REWRITE_API_URL"),
		os.Getenv("REWRITE_API_KEY"),
	)
	rewriteController := controller.NewRewriteController(db, quota, rewriter, log.New(os.Stdout, "REWRITE: ", log.LstdFlags))

	// Public endpoints, rate limited per client IP
	public := app.Group("", middleware.PublicRateLimiter())
	public.Get("/track/open/:token", trackingController.HandleOpenTracking)
	public.Get("/track/click/:token", trackingController.HandleClickTracking)
	public.Post("/webhooks/email", webhookController.HandleEmailWebhook)
	public.Post("/webhooks/stripe", billingController.HandleStripeWebhook)
	public.Get("/plans", billingController.ListPlans)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/", campaignController.ListCampaigns)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Put("/:id", campaignController.UpdateCampaign)
	campaigns.Delete("/:id", campaignController.DeleteCampaign)
	campaigns.Post("/:id/launch", campaignController.LaunchCampaign)
	campaigns.Post("/:id/pause", campaignController.PauseCampaign)
	campaigns.Post("/:id/resume", campaignController.ResumeCampaign)
	campaigns.Post("/:id/cancel", campaignController.CancelCampaign)
	campaigns.Get("/:id/recipients", campaignController.ListRecipients)
	campaigns.Post("/:id/recipients", campaignController.AddRecipient)

	contacts := api.Group("/contacts")
	contacts.Post("/", contactController.CreateContact)
	contacts.Post("/import", contactController.ImportContacts)
	contacts.Get("/", contactController.ListContacts)
	contacts.Delete("/:id", contactController.DeleteContact)

	api.Post("/rewrite", rewriteController.RewriteEmail)
	api.Get("/usage", rewriteController.GetUsage)

	billing := api.Group("/billing")
	billing.Post("/checkout", billingController.CreateCheckoutSession)
}
