package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Payment   PaymentConfig   `yaml:"payment"`
	Fees      FeesConfig      `yaml:"fees"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains gRPC and HTTP listener settings
type ServerConfig struct {
	Host     string `yaml:"host" env:"SERVER_HOST"`
	Port     int    `yaml:"port" env:"SERVER_PORT"`
	HTTPPort int    `yaml:"http_port" env:"HTTP_PORT"`
	// Seconds to wait for in-flight requests on shutdown.
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// DatabaseConfig contains PostgreSQL connection settings. Driver "memory"
// runs without a database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER"`
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Database string `yaml:"database" env:"DB_NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
	MaxConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
}

// JWTConfig contains API access token settings
type JWTConfig struct {
	Secret            string `yaml:"secret" env:"JWT_SECRET"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes" env:"JWT_ACCESS_TOKEN_EXPIRY_MINUTES"`
}

// ExchangeConfig holds the handoff/return token keyring
type ExchangeConfig struct {
	ActiveKeyID string `yaml:"active_key_id" env:"TOKEN_ACTIVE_KEY_ID"`
	// Hex-encoded root keys by key id. Older ids stay listed to verify tokens
	// minted before a rotation.
	Keys          map[string]string `yaml:"keys" env:"TOKEN_KEYS" envSeparator:"," envKeyValSeparator:":"`
	ValidityHours int               `yaml:"validity_hours" env:"TOKEN_VALIDITY_HOURS"`
}

// PaymentConfig contains gateway settings
type PaymentConfig struct {
	Provider              string `yaml:"provider" env:"PAYMENT_PROVIDER"`
	AttemptTimeoutSeconds int    `yaml:"attempt_timeout_seconds" env:"PAYMENT_ATTEMPT_TIMEOUT_SECONDS"`
	MaxAttempts           uint   `yaml:"max_attempts" env:"PAYMENT_MAX_ATTEMPTS"`
	InitialBackoffMillis  int    `yaml:"initial_backoff_ms" env:"PAYMENT_INITIAL_BACKOFF_MS"`
	MaxBackoffMillis      int    `yaml:"max_backoff_ms" env:"PAYMENT_MAX_BACKOFF_MS"`
}

// FeesConfig contains platform and delivery fees. Delivery fees are paise.
type FeesConfig struct {
	PlatformPercent      float64 `yaml:"platform_percent" env:"FEES_PLATFORM_PERCENT"`
	BuddyCourierFeePaise int64   `yaml:"buddy_courier_fee_paise" env:"FEES_BUDDY_COURIER_PAISE"`
	PriorityFeePaise     int64   `yaml:"priority_fee_paise" env:"FEES_PRIORITY_PAISE"`
}

// PricingConfig contains listing review settings
type PricingConfig struct {
	ReferenceHours int `yaml:"reference_hours" env:"PRICING_REFERENCE_HOURS"`
}

// NotifyConfig selects the reminder channel
type NotifyConfig struct {
	Provider           string     `yaml:"provider" env:"NOTIFY_PROVIDER"` // "log", "fcm", "sendgrid" or "smtp"
	FCMCredentialsFile string     `yaml:"fcm_credentials_file" env:"FCM_CREDENTIALS_FILE"`
	SendGridAPIKey     string     `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	SMTP               SMTPConfig `yaml:"smtp"`
	FromEmail          string     `yaml:"from_email" env:"NOTIFY_FROM_EMAIL"`
	FromName           string     `yaml:"from_name" env:"NOTIFY_FROM_NAME"`
}

// SMTPConfig contains SMTP relay settings
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"LOG_FORMAT"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	DispatchReminders  string `yaml:"dispatch_reminders" env:"SCHEDULE_DISPATCH_REMINDERS"`
	ReconcileTrust     string `yaml:"reconcile_trust" env:"SCHEDULE_RECONCILE_TRUST"`
	ExpireStalePending string `yaml:"expire_stale_pending" env:"SCHEDULE_EXPIRE_STALE_PENDING"`
	CollectLateFees    string `yaml:"collect_late_fees" env:"SCHEDULE_COLLECT_LATE_FEES"`
	BatchSize          int    `yaml:"batch_size" env:"SCHEDULE_BATCH_SIZE"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables win over the file
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 || c.Server.HTTPPort == c.Server.Port {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15
	}

	// Database
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = 20
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	// JWT
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry <= 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	// Exchange tokens
	if len(c.Exchange.Keys) == 0 {
		return fmt.Errorf("at least one exchange token key is required")
	}
	if c.Exchange.ActiveKeyID == "" {
		if len(c.Exchange.Keys) != 1 {
			return fmt.Errorf("exchange active_key_id is required when several keys are configured")
		}
		for id := range c.Exchange.Keys {
			c.Exchange.ActiveKeyID = id
		}
	}
	if _, ok := c.Exchange.Keys[c.Exchange.ActiveKeyID]; !ok {
		return fmt.Errorf("exchange active key %q is not configured", c.Exchange.ActiveKeyID)
	}
	if c.Exchange.ValidityHours <= 0 {
		c.Exchange.ValidityHours = 24
	}

	// Payment
	if c.Payment.Provider == "" {
		c.Payment.Provider = "memory"
	}
	if c.Payment.Provider != "memory" {
		return fmt.Errorf("unknown payment provider: %q", c.Payment.Provider)
	}

	// Fees
	if c.Fees.PlatformPercent < 0 || c.Fees.PlatformPercent > 100 {
		return fmt.Errorf("invalid platform fee percent: %v", c.Fees.PlatformPercent)
	}
	if c.Fees.PlatformPercent == 0 && c.Fees.BuddyCourierFeePaise == 0 && c.Fees.PriorityFeePaise == 0 {
		c.Fees.PlatformPercent = 10
		c.Fees.BuddyCourierFeePaise = 2000
		c.Fees.PriorityFeePaise = 5000
	}

	// Pricing
	if c.Pricing.ReferenceHours <= 0 {
		c.Pricing.ReferenceHours = 4
	}

	// Notify
	if c.Notify.Provider == "" {
		c.Notify.Provider = "log"
	}
	switch c.Notify.Provider {
	case "log":
	case "fcm":
		if c.Notify.FCMCredentialsFile == "" {
			return fmt.Errorf("fcm_credentials_file is required for the fcm provider")
		}
	case "sendgrid":
		if c.Notify.SendGridAPIKey == "" || c.Notify.FromEmail == "" {
			return fmt.Errorf("sendgrid api key and from email are required for the sendgrid provider")
		}
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.FromEmail == "" {
			return fmt.Errorf("smtp host and from email are required for the smtp provider")
		}
		if c.Notify.SMTP.Port == 0 {
			c.Notify.SMTP.Port = 587
		}
	default:
		return fmt.Errorf("unknown notify provider: %q", c.Notify.Provider)
	}
	if c.Notify.FromName == "" {
		c.Notify.FromName = "PeerLend"
	}

	// Telemetry
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "peerlend-backend"
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Scheduler defaults
	if c.Scheduler.DispatchReminders == "" {
		c.Scheduler.DispatchReminders = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.ReconcileTrust == "" {
		c.Scheduler.ReconcileTrust = "0 15 * * * *" // hourly at :15
	}
	if c.Scheduler.ExpireStalePending == "" {
		c.Scheduler.ExpireStalePending = "0 */10 * * * *" // every 10 minutes
	}
	if c.Scheduler.CollectLateFees == "" {
		c.Scheduler.CollectLateFees = "0 45 * * * *" // hourly at :45
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 100
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the gRPC server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetHTTPAddress returns the HTTP listener address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpiry) * time.Minute
}

func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.Exchange.ValidityHours) * time.Hour
}

func (c *PaymentConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

func (c *PaymentConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

func (c *PaymentConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMillis) * time.Millisecond
}
