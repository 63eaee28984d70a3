package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	DBURL      string
	JWTSecret  string
	CORSOrigin string
	AppEnv     string

	LogLevel  string
	LogFormat string

	StripeSecretKey         string
	StripeWebhookSecret     string
	StripeAPIURL            string
	StripeMaxNetworkRetries int64

	CheckoutMaxAttempts   uint
	CheckoutRetryInterval time.Duration

	EntryFeeProductName string
	CompanyName         string
}

// Load reads the process environment, seeded from a .env file when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Port:       getEnv("PORT", "8080"),
		DBURL:      must("DB_URL"),
		JWTSecret:  must("JWT_SECRET"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),
		AppEnv:     getEnv("APP_ENV", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StripeSecretKey:     must("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: must("STRIPE_WEBHOOK_SECRET"),
		StripeAPIURL:        getEnv("STRIPE_API_URL", ""),

		EntryFeeProductName: getEnv("ENTRY_FEE_PRODUCT_NAME", "Initial payment"),
		CompanyName:         getEnv("COMPANY_NAME", "Membership"),
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.StripeMaxNetworkRetries, err = getInt("STRIPE_MAX_NETWORK_RETRIES", 2); err != nil {
		return Config{}, err
	}
	attempts, err := getInt("CHECKOUT_MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	if attempts < 1 {
		return Config{}, fmt.Errorf("CHECKOUT_MAX_ATTEMPTS must be at least 1, got %d", attempts)
	}
	cfg.CheckoutMaxAttempts = uint(attempts)
	if cfg.CheckoutRetryInterval, err = getDuration("CHECKOUT_RETRY_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
