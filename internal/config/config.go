package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Gateways    GatewaysConfig
	RateLimit   RateLimitConfig
	Jobs        JobsConfig
	Notify      NotifyConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	Environment string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration

	// AdminPasswordHash is the bcrypt hash the token command checks before
	// minting admin tokens. Empty disables admin minting.
	AdminPasswordHash string
}

// GatewaysConfig carries the payment provider credentials. A gateway with an
// empty key id is not registered.
type GatewaysConfig struct {
	Razorpay RazorpayConfig
	Stripe   StripeConfig
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type RateLimitConfig struct {
	PublicPerMinute  int
	WebhookPerMinute int
	StaffPerMinute   int
}

type JobsConfig struct {
	RefundRetryAttempts    int
	RefundRetryBatch       int
	StalePaymentAge        time.Duration
	ReconcileInterval      time.Duration
	WebhookLedgerRetention time.Duration
}

type NotifyConfig struct {
	ResendAPIKey string
	FromAddress  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// TracingConfig controls OpenTelemetry trace export. Disabled by default.
type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Gateways: GatewaysConfig{
			Razorpay: RazorpayConfig{
				KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
				KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
				WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			},
			Stripe: StripeConfig{
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			},
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:  getEnvInt("RATE_LIMIT_PUBLIC", 60),
			WebhookPerMinute: getEnvInt("RATE_LIMIT_WEBHOOK", 600),
			StaffPerMinute:   getEnvInt("RATE_LIMIT_STAFF", 0),
		},
		Jobs: JobsConfig{
			RefundRetryAttempts:    getEnvInt("JOB_REFUND_RETRY_ATTEMPTS", 5),
			RefundRetryBatch:       getEnvInt("JOB_REFUND_RETRY_BATCH", 50),
			StalePaymentAge:        time.Duration(getEnvInt("JOB_STALE_PAYMENT_MINUTES", 60)) * time.Minute,
			ReconcileInterval:      time.Duration(getEnvInt("JOB_RECONCILE_INTERVAL_MINUTES", 15)) * time.Minute,
			WebhookLedgerRetention: time.Duration(getEnvInt("JOB_WEBHOOK_RETENTION_DAYS", 30)) * 24 * time.Hour,
		},
		Notify: NotifyConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromAddress:  getEnv("NOTIFY_FROM_ADDRESS", "registrations@localhost"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "entrant-server"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Environment == "production" {
		if len(cfg.Auth.JWTSecret) < 32 {
			return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes in production")
		}
		if cfg.Gateways.Razorpay.KeyID == "" && cfg.Gateways.Stripe.SecretKey == "" {
			return Config{}, fmt.Errorf("at least one payment gateway must be configured in production")
		}
		if cfg.Gateways.Razorpay.KeyID != "" && cfg.Gateways.Razorpay.WebhookSecret == "" {
			return Config{}, fmt.Errorf("RAZORPAY_WEBHOOK_SECRET is required when razorpay is configured")
		}
		if cfg.Gateways.Stripe.SecretKey != "" && cfg.Gateways.Stripe.WebhookSecret == "" {
			return Config{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when stripe is configured")
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
