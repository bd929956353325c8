package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"recompose/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type IMAPConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"` // host:port
	Username string `json:"username"`
	Password string `json:"-"`
	Mailbox  string `json:"mailbox"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type DispatcherConfig struct {
	Interval        time.Duration `json:"interval"`
	BatchSize       int           `json:"batch_size"`
	MaxSendAttempts int           `json:"max_send_attempts"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
	SendTimeout     time.Duration `json:"send_timeout"`

	// StaleClaimAfter is how long a claimed row may sit in-flight before a
	// tick assumes its dispatcher died and returns it to pending.
	StaleClaimAfter time.Duration `json:"stale_claim_after"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"-"`

	StripeSecretKey     string `json:"-"`
	StripeWebhookSecret string `json:"-"`
	EmailWebhookSecret  string `json:"-"`

	SMTP      SMTPConfig `json:"smtp"`
	IMAP      IMAPConfig `json:"imap"`
	FromEmail string     `json:"from_email"`
	FromName  string     `json:"from_name"`

	// TrackingBaseURL is the public origin embedded in pixel and click URLs.
	TrackingBaseURL string `json:"tracking_base_url"`

	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Redis backs the public-endpoint rate limiter when running more than
	// one API instance; in-memory limiting is used otherwise.
	Redis RedisConfig `json:"redis"`

	// RateLimitPublic caps requests per minute per client on the unauthenticated
	// tracking and webhook endpoints.
	RateLimitPublic int `json:"rate_limit_public"`

	// QuotaTimezone is the fixed reference timezone for daily period keys.
	QuotaTimezone string `json:"quota_timezone"`
}

// QuotaLocation resolves the configured quota timezone, falling back to UTC.
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "recompose"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		EmailWebhookSecret:  getEnv("EMAIL_WEBHOOK_SECRET", ""),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		IMAP: IMAPConfig{
			Enabled:  getEnv("IMAP_ENABLED", "false") == "true",
			Address:  getEnv("IMAP_ADDRESS", ""),
			Username: getEnv("IMAP_USERNAME", ""),
			Password: getEnv("IMAP_PASSWORD", ""),
			Mailbox:  getEnv("IMAP_MAILBOX", "INBOX"),
		},
		FromEmail: getEnv("FROM_EMAIL", "no-reply@recompose.app"),
		FromName:  getEnv("FROM_NAME", "Recompose"),

		TrackingBaseURL: getEnv("TRACKING_BASE_URL", "http://localhost:8000"),

		Dispatcher: DispatcherConfig{
			Interval:        time.Duration(getEnvAsInt("DISPATCHER_INTERVAL_SECONDS", 30)) * time.Second,
			BatchSize:       getEnvAsInt("DISPATCHER_BATCH_SIZE", 50),
			MaxSendAttempts: getEnvAsInt("DISPATCHER_MAX_SEND_ATTEMPTS", 3),
			RetryBackoff:    time.Duration(getEnvAsInt("DISPATCHER_RETRY_BACKOFF_MINUTES", 15)) * time.Minute,
			SendTimeout:     time.Duration(getEnvAsInt("DISPATCHER_SEND_TIMEOUT_SECONDS", 30)) * time.Second,
			StaleClaimAfter: time.Duration(getEnvAsInt("DISPATCHER_STALE_CLAIM_MINUTES", 10)) * time.Minute,
		},

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimitPublic: getEnvAsInt("RATE_LIMIT_PUBLIC", 300),

		QuotaTimezone: getEnv("QUOTA_TIMEZONE", "UTC"),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Dispatcher.BatchSize < 1 {
		return fmt.Errorf("DISPATCHER_BATCH_SIZE must be positive")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.EmailWebhookSecret == "" {
			return fmt.Errorf("EMAIL_WEBHOOK_SECRET is required in production")
		}
		if AppConfig.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	if err := models.CreateDefaultPlans(DB); err != nil {
		return fmt.Errorf("plan seeding failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Dispatcher: every %s, batch %d, max attempts %d",
		AppConfig.Dispatcher.Interval,
		AppConfig.Dispatcher.BatchSize,
		AppConfig.Dispatcher.MaxSendAttempts)
	log.Printf("Quota timezone: %s", AppConfig.QuotaTimezone)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Contact{},
		&models.Campaign{},
		&models.CampaignStep{},
		&models.RecipientProgress{},
		&models.TrackingEvent{},
		&models.UsageCounter{},
		&models.WebhookEvent{},
		&models.RewriteLog{},
	)
}
