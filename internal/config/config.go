package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultClinic string   `mapstructure:"DEFAULT_CLINIC"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Billing
	TaxRate               string  `mapstructure:"TAX_RATE"`
	InvoicePrefix         string  `mapstructure:"INVOICE_PREFIX"`
	PaymentTermDays       int     `mapstructure:"PAYMENT_TERM_DAYS"`
	QuickPayHalfThreshold float64 `mapstructure:"QUICK_PAY_HALF_THRESHOLD"`
	QuickPayIncrement     float64 `mapstructure:"QUICK_PAY_INCREMENT"`
	RetryMaxAttempts      int     `mapstructure:"RETRY_MAX_ATTEMPTS"`

	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	OverdueScanInterval time.Duration `mapstructure:"OVERDUE_SCAN_INTERVAL"`
	AppointmentCacheTTL time.Duration `mapstructure:"APPOINTMENT_CACHE_TTL"`
}

var invoicePrefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_CLINIC", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"TAX_RATE", "INVOICE_PREFIX", "PAYMENT_TERM_DAYS",
	"QUICK_PAY_HALF_THRESHOLD", "QUICK_PAY_INCREMENT", "RETRY_MAX_ATTEMPTS",
	"REQUEST_TIMEOUT", "OVERDUE_SCAN_INTERVAL", "APPOINTMENT_CACHE_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_CLINIC", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TAX_RATE", "0.16")
	v.SetDefault("INVOICE_PREFIX", "INV")
	v.SetDefault("PAYMENT_TERM_DAYS", 30)
	v.SetDefault("QUICK_PAY_HALF_THRESHOLD", 200)
	v.SetDefault("QUICK_PAY_INCREMENT", 500)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("OVERDUE_SCAN_INTERVAL", "1h")
	v.SetDefault("APPOINTMENT_CACHE_TTL", "5m")

	// Unmarshal only sees env vars that are bound explicitly.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// TaxRateDecimal parses TAX_RATE, e.g. "0.16" for 16%.
func (c *Config) TaxRateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("TAX_RATE is not a decimal: %w", err)
	}
	return rate, nil
}

// Validate rejects configurations the billing engine cannot run with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	rate, err := c.TaxRateDecimal()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0, 1), got %s", c.TaxRate)
	}

	if !invoicePrefixPattern.MatchString(c.InvoicePrefix) {
		return fmt.Errorf("INVOICE_PREFIX must be 1-10 uppercase letters or digits, got %q", c.InvoicePrefix)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.PaymentTermDays < 0 {
		return fmt.Errorf("PAYMENT_TERM_DAYS must not be negative, got %d", c.PaymentTermDays)
	}
	if c.QuickPayHalfThreshold < 0 || c.QuickPayIncrement < 0 {
		return fmt.Errorf("quick pay settings must not be negative")
	}
	return nil
}
