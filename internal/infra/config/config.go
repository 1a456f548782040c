package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string
	AdminTelegramID int64 // 0 disables admin commands, alerts are only logged
	LogLevel        string
	Environment     string

	MeteoFranceAPIKey         string
	MeteoFranceBaseURL        string
	MeteoFranceRequestsPerMin int
	UpstreamTimeout           time.Duration
	FetchConcurrency          int
	ScratchDir                string

	GCSBucket string

	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppTemplateName  string
	WhatsAppTemplateLang  string

	GoogleMapsAPIKey string // empty disables geocoding

	TelegramBatchSize int
	WhatsAppBatchSize int
	BatchDelay        time.Duration

	HTTPAddr string
	CronSpec string
}

const defaultMeteoFranceBaseURL = "https://public-api.meteofrance.fr/public/DPBRA/v1"

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables already set in the environment.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	for _, req := range []struct {
		name string
		dst  *string
	}{
		{"TELEGRAM_TOKEN", &cfg.TelegramToken},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"METEOFRANCE_API_KEY", &cfg.MeteoFranceAPIKey},
		{"GCS_BUCKET", &cfg.GCSBucket},
		{"WHATSAPP_ACCESS_TOKEN", &cfg.WhatsAppAccessToken},
		{"WHATSAPP_PHONE_NUMBER_ID", &cfg.WhatsAppPhoneNumberID},
	} {
		*req.dst = os.Getenv(req.name)
		if *req.dst == "" {
			return nil, fmt.Errorf("%s is not set", req.name)
		}
	}

	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOr("ENVIRONMENT", "development"))

	cfg.MeteoFranceBaseURL = strings.TrimRight(envOr("METEOFRANCE_BASE_URL", defaultMeteoFranceBaseURL), "/")
	if cfg.MeteoFranceRequestsPerMin, err = envInt("METEOFRANCE_REQUESTS_PER_MINUTE", 50); err != nil {
		return nil, err
	}
	timeoutSeconds, err := envInt("UPSTREAM_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.UpstreamTimeout = time.Duration(timeoutSeconds) * time.Second
	if cfg.FetchConcurrency, err = envInt("FETCH_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	cfg.ScratchDir = envOr("SCRATCH_DIR", os.TempDir())

	cfg.WhatsAppVerifyToken = os.Getenv("WHATSAPP_VERIFY_TOKEN")
	cfg.WhatsAppAppSecret = os.Getenv("WHATSAPP_APP_SECRET")
	cfg.WhatsAppTemplateName = os.Getenv("WHATSAPP_TEMPLATE_NAME")
	cfg.WhatsAppTemplateLang = envOr("WHATSAPP_TEMPLATE_LANG", "fr")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")

	if cfg.TelegramBatchSize, err = envInt("TELEGRAM_BATCH_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.WhatsAppBatchSize, err = envInt("WHATSAPP_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	delayMs, err := envInt("BATCH_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.BatchDelay = time.Duration(delayMs) * time.Millisecond

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.CronSpec = envOr("CRON_SPEC", "*/15 * * * *") // every 15 minutes

	return cfg, nil
}

// ValidateServe checks the settings only the long-running server needs.
func (c *AppConfig) ValidateServe() error {
	if c.WhatsAppVerifyToken == "" {
		return fmt.Errorf("WHATSAPP_VERIFY_TOKEN is not set")
	}
	if c.WhatsAppAppSecret == "" {
		return fmt.Errorf("WHATSAPP_APP_SECRET is not set")
	}
	return nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}
