package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"recompose/config"
	"recompose/middleware"
	"recompose/routes"
	"recompose/utils"
	"recompose/worker"
)

func main() {
	logger := log.New(os.Stdout, "RECOMPOSE: ", log.Ldate|log.Ltime|log.Lshortfile)

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	utils.InitStripe()

	app := fiber.New()
	app.Use(middleware.CORS())

	mailer := utils.NewSMTPMailer(
		config.AppConfig.SMTP.Host,
		config.AppConfig.SMTP.Port,
		config.AppConfig.SMTP.Username,
		config.AppConfig.SMTP.Password,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := worker.NewDispatcher(config.DB, mailer, &config.AppConfig,
		log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	go dispatcher.Start(ctx)

	if config.AppConfig.IMAP.Enabled {
		replyWorker := worker.NewReplyWorker(config.DB, config.AppConfig.IMAP,
			log.New(os.Stdout, "REPLY: ", log.LstdFlags))
		go replyWorker.Start(ctx)
	}

	routes.SetupRoutes(app, config.DB)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	port := config.AppConfig.ServerPort
	logger.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}
