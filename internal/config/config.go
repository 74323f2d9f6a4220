// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Downstream collaborators
	ClassifierURL   string // intent classifier endpoint
	ContactsURL     string // contacts directory service
	LedgerURL       string // ledger writer service
	BalanceURL      string // balance reader service
	HistoryURL      string // transaction history service
	BudgetsURL      string // budgets/spending service
	RatePrimaryURL  string
	RateFallbackURL string

	// Notification sink
	AlertWebhookURL    string // fire-and-forget alert delivery (optional)
	AlertWebhookSecret string // HMAC secret for signed alert payloads

	// Risk thresholds (z-scaled score)
	RiskFraudThreshold      float64
	RiskSuspiciousThreshold float64

	// Confirmation
	ChatConfirmTTL time.Duration
	OTPConfirmTTL  time.Duration
	OTPMaxAttempts int

	// Entity resolution
	MatchFloor int // fuzzy-match confidence floor, 0-100

	// Intent classification
	IntentConfidenceFloor float64

	// Outbound HTTP retry policy
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

// Defaults
const (
	DefaultPort                    = "8080"
	DefaultEnv                     = "development"
	DefaultLogLevel                = "info"
	DefaultRiskFraudThreshold      = 5.0
	DefaultRiskSuspiciousThreshold = 3.0
	DefaultChatConfirmTTL          = 60 * time.Second
	DefaultOTPConfirmTTL           = 300 * time.Second
	DefaultOTPMaxAttempts          = 3
	DefaultMatchFloor              = 80
	DefaultIntentConfidenceFloor   = 0.6
	DefaultRetryAttempts           = 3
	DefaultRetryBaseDelay          = 200 * time.Millisecond
	DefaultRatePrimaryURL          = "https://api.exchangerate-api.com/v4/latest/USD"
	DefaultRateFallbackURL         = "https://api.fxratesapi.com/latest?base=USD"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ClassifierURL:   os.Getenv("CLASSIFIER_URL"),
		ContactsURL:     os.Getenv("CONTACTS_URL"),
		LedgerURL:       os.Getenv("LEDGER_URL"),
		BalanceURL:      os.Getenv("BALANCE_URL"),
		HistoryURL:      os.Getenv("HISTORY_URL"),
		BudgetsURL:      os.Getenv("BUDGETS_URL"),
		RatePrimaryURL:  getEnv("RATE_PRIMARY_URL", DefaultRatePrimaryURL),
		RateFallbackURL: getEnv("RATE_FALLBACK_URL", DefaultRateFallbackURL),

		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),

		RiskFraudThreshold:      getEnvFloat("RISK_FRAUD_THRESHOLD", DefaultRiskFraudThreshold),
		RiskSuspiciousThreshold: getEnvFloat("RISK_SUSPICIOUS_THRESHOLD", DefaultRiskSuspiciousThreshold),

		ChatConfirmTTL: getEnvDuration("CHAT_CONFIRM_TTL", DefaultChatConfirmTTL),
		OTPConfirmTTL:  getEnvDuration("OTP_CONFIRM_TTL", DefaultOTPConfirmTTL),
		OTPMaxAttempts: int(getEnvInt64("OTP_MAX_ATTEMPTS", DefaultOTPMaxAttempts)),

		MatchFloor:            int(getEnvInt64("MATCH_FLOOR", DefaultMatchFloor)),
		IntentConfidenceFloor: getEnvFloat("INTENT_CONFIDENCE_FLOOR", DefaultIntentConfidenceFloor),

		RetryAttempts:  int(getEnvInt64("RETRY_ATTEMPTS", DefaultRetryAttempts)),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if c.ClassifierURL == "" {
		return fmt.Errorf("CLASSIFIER_URL is required")
	}
	if c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}
	if c.ContactsURL == "" {
		return fmt.Errorf("CONTACTS_URL is required")
	}
	if c.RiskSuspiciousThreshold <= 0 || c.RiskFraudThreshold <= c.RiskSuspiciousThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 < suspicious < fraud (got %v, %v)",
			c.RiskSuspiciousThreshold, c.RiskFraudThreshold)
	}
	if c.MatchFloor < 0 || c.MatchFloor > 100 {
		return fmt.Errorf("MATCH_FLOOR must be between 0 and 100")
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
