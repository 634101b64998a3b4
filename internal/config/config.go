package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Email    EmailConfig    `json:"email"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
	NATS     NATSConfig     `json:"nats"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Stripe   StripeConfig   `json:"stripe"`
	Billing  BillingConfig  `json:"billing"`
	Worker   WorkerConfig   `json:"worker"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig contains server related configurations
type ServerConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig contains database related configurations.
// An empty Host selects the in-memory store.
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
}

// EmailConfig contains email service configurations
type EmailConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	FromEmail    string `json:"from_email"`
	AdminEmail   string `json:"admin_email"`
}

// AuthConfig contains authentication related configurations
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	JWTExpiration int    `json:"jwt_expiration"` // in hours
}

// RedisConfig contains the pub/sub connection used to fan out bid updates
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NATSConfig contains the event bus connection
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// RabbitMQConfig contains the queue connection used for notifications and documents
type RabbitMQConfig struct {
	URL           string `json:"url"`
	NotifyQueue   string `json:"notify_queue"`
	DocumentQueue string `json:"document_queue"`
}

// StripeConfig contains payment gateway credentials
type StripeConfig struct {
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
	LookupTimeout int    `json:"lookup_timeout"` // in seconds
}

// BillingConfig contains invoicing and settlement defaults
type BillingConfig struct {
	Currency              string          `json:"currency"`
	InvoicePrefix         string          `json:"invoice_prefix"`
	DefaultCommissionRate decimal.Decimal `json:"default_commission_rate"` // percent
}

// WorkerConfig contains the background sweeper settings
type WorkerConfig struct {
	Enabled                bool   `json:"enabled"`
	Schedule               string `json:"schedule"`
	CloseConcurrency       int    `json:"close_concurrency"`
	NotificationMaxAttempt int    `json:"notification_max_attempts"`
	DeliveryTimeout        int    `json:"delivery_timeout"` // in seconds
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `json:"level"`
}

// LookupTimeoutDuration returns the gateway lookup timeout
func (c StripeConfig) LookupTimeoutDuration() time.Duration {
	return time.Duration(c.LookupTimeout) * time.Second
}

// DeliveryTimeoutDuration returns the per-notification delivery timeout
func (c WorkerConfig) DeliveryTimeoutDuration() time.Duration {
	return time.Duration(c.DeliveryTimeout) * time.Second
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Port:    5432,
			Name:    "bidhall",
			SSLMode: "disable",
		},
		Email: EmailConfig{
			SMTPPort:  587,
			FromEmail: "noreply@bidhall.io",
		},
		Auth: AuthConfig{
			JWTExpiration: 24,
		},
		NATS: NATSConfig{
			SubjectPrefix: "bidhall",
		},
		RabbitMQ: RabbitMQConfig{
			NotifyQueue:   "bidhall.notifications",
			DocumentQueue: "bidhall.documents",
		},
		Stripe: StripeConfig{
			LookupTimeout: 5,
		},
		Billing: BillingConfig{
			Currency:              "USD",
			InvoicePrefix:         "INV",
			DefaultCommissionRate: decimal.NewFromInt(10),
		},
		Worker: WorkerConfig{
			Enabled:                true,
			Schedule:               "@every 30s",
			CloseConcurrency:       4,
			NotificationMaxAttempt: 5,
			DeliveryTimeout:        10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	cfg := Default()

	// Look for config file
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		// Use default config file path
		configFile = filepath.Join("configs", "config.json")
	}

	// Try to load config from file
	if _, err := os.Stat(configFile); err == nil {
		file, err := os.Open(configFile)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", configFile, err)
		}
	}

	// Override with environment variables if present
	envInt("SERVER_PORT", &cfg.Server.Port)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	envString("DB_HOST", &cfg.Database.Host)
	envInt("DB_PORT", &cfg.Database.Port)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASSWORD", &cfg.Database.Password)
	envString("DB_NAME", &cfg.Database.Name)
	envString("DB_SSLMODE", &cfg.Database.SSLMode)

	envString("SMTP_HOST", &cfg.Email.SMTPHost)
	envInt("SMTP_PORT", &cfg.Email.SMTPPort)
	envString("SMTP_USER", &cfg.Email.SMTPUser)
	envString("SMTP_PASSWORD", &cfg.Email.SMTPPassword)
	envString("FROM_EMAIL", &cfg.Email.FromEmail)
	envString("ADMIN_EMAIL", &cfg.Email.AdminEmail)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envString("NATS_URL", &cfg.NATS.URL)
	envString("RABBITMQ_URL", &cfg.RabbitMQ.URL)

	envString("STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey)
	envString("STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret)

	envString("BILLING_CURRENCY", &cfg.Billing.Currency)
	envString("INVOICE_PREFIX", &cfg.Billing.InvoicePrefix)
	if rate := os.Getenv("BILLING_COMMISSION_RATE"); rate != "" {
		parsed, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("invalid BILLING_COMMISSION_RATE %q: %w", rate, err)
		}
		cfg.Billing.DefaultCommissionRate = parsed
	}

	envString("WORKER_SCHEDULE", &cfg.Worker.Schedule)
	if enabled := os.Getenv("WORKER_ENABLED"); enabled != "" {
		cfg.Worker.Enabled = enabled == "true" || enabled == "1"
	}

	envString("LOG_LEVEL", &cfg.Log.Level)

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.Auth.JWTSecret = jwtSecret
	} else if cfg.Auth.JWTSecret == "" {
		// Generate a random JWT secret if not provided
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = base64.StdEncoding.EncodeToString(randomBytes)
	}

	return cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}
