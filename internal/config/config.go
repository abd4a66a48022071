// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Fee rates, in basis points. Captured once per transaction at creation;
	// changing them never alters fees on existing transactions.
	BuyerFeeBps        int
	SellerFeeBps       int
	DealerCommissionBps int
	VATBps             int

	// Lifecycle deadlines
	PaymentDeadline  time.Duration // time the buyer has to wire the funds
	InspectionPeriod time.Duration // time the buyer has to inspect the vehicle
	SweepInterval    time.Duration // deadline sweep cadence

	// Security
	AdminSecret    string // shared secret for admin endpoints
	AllowedOrigins []string
	RateLimitRPM   int

	// Outbound notifications
	WebhookURL    string // endpoint receiving lifecycle events (optional)
	WebhookSecret string // HMAC key for signing webhook payloads

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultBuyerFeeBps      = 250  // 2.5%
	DefaultSellerFeeBps     = 150  // 1.5%
	DefaultDealerBps        = 300  // 3.0%
	DefaultVATBps           = 1900 // 19%
	DefaultPaymentDeadline  = 48 * time.Hour
	DefaultInspectionPeriod = 72 * time.Hour
	DefaultSweepInterval    = 2 * time.Minute
	DefaultRateLimit        = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		BuyerFeeBps:         getEnvInt("BUYER_FEE_BPS", DefaultBuyerFeeBps),
		SellerFeeBps:        getEnvInt("SELLER_FEE_BPS", DefaultSellerFeeBps),
		DealerCommissionBps: getEnvInt("DEALER_COMMISSION_BPS", DefaultDealerBps),
		VATBps:              getEnvInt("VAT_BPS", DefaultVATBps),
		PaymentDeadline:     getEnvDuration("PAYMENT_DEADLINE", DefaultPaymentDeadline),
		InspectionPeriod:    getEnvDuration("INSPECTION_PERIOD", DefaultInspectionPeriod),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		WebhookURL:          os.Getenv("WEBHOOK_URL"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	for name, bps := range map[string]int{
		"BUYER_FEE_BPS":         c.BuyerFeeBps,
		"SELLER_FEE_BPS":        c.SellerFeeBps,
		"DEALER_COMMISSION_BPS": c.DealerCommissionBps,
		"VAT_BPS":               c.VATBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000 basis points, got %d", name, bps)
		}
	}

	if c.PaymentDeadline <= 0 {
		return fmt.Errorf("PAYMENT_DEADLINE must be positive")
	}
	if c.InspectionPeriod <= 0 {
		return fmt.Errorf("INSPECTION_PERIOD must be positive")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
