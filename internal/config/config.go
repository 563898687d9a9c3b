package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Fees      FeeConfig       `mapstructure:",squash"`
	Processor ProcessorConfig `mapstructure:",squash"`
	Auth      AuthConfig      `mapstructure:",squash"`
	RateLimit RateLimitConfig `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	Host            string        `mapstructure:"DATABASE_HOST"`
	Port            string        `mapstructure:"DATABASE_PORT"`
	Name            string        `mapstructure:"DATABASE_NAME"`
	User            string        `mapstructure:"DATABASE_USER"`
	Password        string        `mapstructure:"DATABASE_PASSWORD"`
	SSLMode         string        `mapstructure:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

// DSN returns DATABASE_URL when set, otherwise a URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	URL      string `mapstructure:"REDIS_URL"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Host != ""
}

type SchedulerConfig struct {
	SweepSpec string `mapstructure:"SCHEDULER_SWEEP_SPEC"`
	Timezone  string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	MaxInstallments   int           `mapstructure:"MAX_INSTALLMENTS"`
	MaxChargeAttempts int           `mapstructure:"MAX_CHARGE_ATTEMPTS"`
	RetryBackoffBase  time.Duration `mapstructure:"RETRY_BACKOFF_BASE"`
	SweepConcurrency  int           `mapstructure:"SWEEP_CONCURRENCY"`
	PlanLockTTL       time.Duration `mapstructure:"PLAN_LOCK_TTL"`
}

// FeeConfig carries fee constants as decimal strings so they are never
// parsed through float64.
type FeeConfig struct {
	BankRate     string `mapstructure:"FEE_BANK_RATE"`
	BankCap      string `mapstructure:"FEE_BANK_CAP"`
	CardRate     string `mapstructure:"FEE_CARD_RATE"`
	CardFixed    string `mapstructure:"FEE_CARD_FIXED"`
	PlatformRate string `mapstructure:"FEE_PLATFORM_RATE"`
}

// FeeRates is the parsed form of FeeConfig.
type FeeRates struct {
	BankRate     decimal.Decimal
	BankCap      decimal.Decimal
	CardRate     decimal.Decimal
	CardFixed    decimal.Decimal
	PlatformRate decimal.Decimal
}

// DefaultFeeRates returns the standard processor and platform pricing.
func DefaultFeeRates() FeeRates {
	return FeeRates{
		BankRate:     decimal.RequireFromString("0.008"),
		BankCap:      decimal.RequireFromString("5.00"),
		CardRate:     decimal.RequireFromString("0.029"),
		CardFixed:    decimal.RequireFromString("0.30"),
		PlatformRate: decimal.RequireFromString("0.01"),
	}
}

type ProcessorConfig struct {
	SecretKey                  string        `mapstructure:"STRIPE_SECRET_KEY"`
	WebhookSecret              string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	Currency                   string        `mapstructure:"PROCESSOR_CURRENCY"`
	Timeout                    time.Duration `mapstructure:"PROCESSOR_TIMEOUT"`
	BreakerConsecutiveFailures uint32        `mapstructure:"PROCESSOR_BREAKER_CONSECUTIVE_FAILURES"`
	BreakerOpenTimeout         time.Duration `mapstructure:"PROCESSOR_BREAKER_OPEN_TIMEOUT"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	Window   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]any{
	"SERVER_PORT":                            "8080",
	"SERVER_HOST":                            "0.0.0.0",
	"ENV":                                    "development",
	"SERVER_READ_TIMEOUT":                    "15s",
	"SERVER_WRITE_TIMEOUT":                   "30s",
	"DATABASE_URL":                           "",
	"DATABASE_HOST":                          "localhost",
	"DATABASE_PORT":                          "5432",
	"DATABASE_NAME":                          "installments",
	"DATABASE_USER":                          "postgres",
	"DATABASE_PASSWORD":                      "",
	"DATABASE_SSLMODE":                       "disable",
	"DATABASE_MAX_OPEN_CONNS":                25,
	"DATABASE_MAX_IDLE_CONNS":                5,
	"DATABASE_CONN_MAX_LIFETIME":             "30m",
	"REDIS_URL":                              "",
	"REDIS_HOST":                             "",
	"REDIS_PORT":                             "6379",
	"REDIS_PASSWORD":                         "",
	"REDIS_DB":                               0,
	"SCHEDULER_SWEEP_SPEC":                   "0 0 * * * *",
	"SCHEDULER_TIMEZONE":                     "UTC",
	"LOG_LEVEL":                              "info",
	"LOG_FORMAT":                             "json",
	"MAX_INSTALLMENTS":                       12,
	"MAX_CHARGE_ATTEMPTS":                    3,
	"RETRY_BACKOFF_BASE":                     "24h",
	"SWEEP_CONCURRENCY":                      8,
	"PLAN_LOCK_TTL":                          "30s",
	"FEE_BANK_RATE":                          "0.008",
	"FEE_BANK_CAP":                           "5.00",
	"FEE_CARD_RATE":                          "0.029",
	"FEE_CARD_FIXED":                         "0.30",
	"FEE_PLATFORM_RATE":                      "0.01",
	"STRIPE_SECRET_KEY":                      "",
	"STRIPE_WEBHOOK_SECRET":                  "",
	"PROCESSOR_CURRENCY":                     "usd",
	"PROCESSOR_TIMEOUT":                      "10s",
	"PROCESSOR_BREAKER_CONSECUTIVE_FAILURES": 5,
	"PROCESSOR_BREAKER_OPEN_TIMEOUT":         "30s",
	"JWT_SECRET":                             "",
	"JWT_ISSUER":                             "chapter-treasury",
	"RATE_LIMIT_REQUESTS":                    10,
	"RATE_LIMIT_WINDOW":                      "1m",
	"HEALTH_CHECK_TIMEOUT":                   "5s",
}

var envFiles = []string{".env", "deployments/.env"}

// loadEnvFiles loads each file that exists. Values already in the environment
// and those from earlier files win.
func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required")
	}

	if c.Business.MaxInstallments < 1 {
		return fmt.Errorf("MAX_INSTALLMENTS must be greater than 0")
	}

	if c.Business.MaxChargeAttempts < 1 {
		return fmt.Errorf("MAX_CHARGE_ATTEMPTS must be greater than 0")
	}

	if c.Business.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be greater than 0")
	}

	if c.Business.RetryBackoffBase <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be a positive duration")
	}

	if c.Processor.Timeout <= 0 {
		return fmt.Errorf("PROCESSOR_TIMEOUT must be a positive duration")
	}

	if _, err := c.GetFeeRates(); err != nil {
		return err
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Processor.SecretKey == "" || c.Processor.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required in production")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetFeeRates parses the fee constants.
func (c *Config) GetFeeRates() (FeeRates, error) {
	parse := func(name, value string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s must be a valid decimal: %w", name, err)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s cannot be negative", name)
		}
		return d, nil
	}

	var (
		rates FeeRates
		err   error
	)
	if rates.BankRate, err = parse("FEE_BANK_RATE", c.Fees.BankRate); err != nil {
		return FeeRates{}, err
	}
	if rates.BankCap, err = parse("FEE_BANK_CAP", c.Fees.BankCap); err != nil {
		return FeeRates{}, err
	}
	if rates.CardRate, err = parse("FEE_CARD_RATE", c.Fees.CardRate); err != nil {
		return FeeRates{}, err
	}
	if rates.CardFixed, err = parse("FEE_CARD_FIXED", c.Fees.CardFixed); err != nil {
		return FeeRates{}, err
	}
	if rates.PlatformRate, err = parse("FEE_PLATFORM_RATE", c.Fees.PlatformRate); err != nil {
		return FeeRates{}, err
	}
	if !rates.CardRate.LessThan(decimal.NewFromInt(1)) {
		return FeeRates{}, fmt.Errorf("FEE_CARD_RATE must be below 1")
	}

	return rates, nil
}

// GetSchedulerLocation returns the scheduler time zone.
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
