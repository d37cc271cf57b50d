package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	AutoMigrate bool
	GinMode     string

	// Secret management. SecretProvider selects local envelope encryption or
	// the KMS-backed provider.
	SecretProvider   string // local | kms
	SecretPassphrase string
	SecretFilePath   string
	KMSKeyID         string
	KMSEndpoint      string
	KMSCacheTTL      time.Duration

	// Ledger / asset.
	HorizonURL       string
	AssetCode        string
	AssetIssuer      string
	LedgerTimeout    time.Duration
	MonitorInterval  time.Duration
	MonitorExpiry    time.Duration
	MonitorPageLimit int

	// Exchange partner.
	ExchangeURL     string
	ExchangeAPIKey  string
	ExchangeTimeout time.Duration

	// Settlement.
	FeePercent          decimal.Decimal
	SettlementBatchSize int
	SettlementInterval  time.Duration

	// Reconciliation.
	DiscrepancyThreshold decimal.Decimal // percent
	FeeDeviationPoints   decimal.Decimal // percentage points

	// Webhooks.
	WebhookSecret     string // default signing secret for merchants without one
	WebhookTimeout    time.Duration
	WebhookMaxRetries int

	// Billing.
	BillingInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "anchorpay"),
		DBPassword:  getEnv("DB_PASSWORD", "anchorpay_secret"),
		DBName:      getEnv("DB_NAME", "anchorpay"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		AutoMigrate: getEnv("AUTO_MIGRATE", "false") == "true",
		GinMode:     getEnv("GIN_MODE", "debug"),

		SecretProvider:   getEnv("SECRET_PROVIDER", "local"),
		SecretPassphrase: getEnv("SECRET_PASSPHRASE", ""),
		SecretFilePath:   getEnv("SECRET_FILE_PATH", "master.secret"),
		KMSKeyID:         getEnv("KMS_KEY_ID", ""),
		KMSEndpoint:      getEnv("KMS_ENDPOINT", ""),
		KMSCacheTTL:      getDuration("KMS_CACHE_TTL", 5*time.Minute),

		HorizonURL:       getEnv("HORIZON_URL", "https://horizon.stellar.org"),
		AssetCode:        getEnv("ASSET_CODE", "USDC"),
		AssetIssuer:      getEnv("ASSET_ISSUER", ""),
		LedgerTimeout:    getDuration("LEDGER_TIMEOUT", 15*time.Second),
		MonitorInterval:  getDuration("MONITOR_INTERVAL", 3*time.Second),
		MonitorExpiry:    getDuration("MONITOR_EXPIRY", 24*time.Hour),
		MonitorPageLimit: getInt("MONITOR_PAGE_LIMIT", 50),

		ExchangeURL:     getEnv("EXCHANGE_URL", ""),
		ExchangeAPIKey:  getEnv("EXCHANGE_API_KEY", ""),
		ExchangeTimeout: getDuration("EXCHANGE_TIMEOUT", 20*time.Second),

		FeePercent:          getDecimal("SETTLEMENT_FEE_PERCENT", "2"),
		SettlementBatchSize: getInt("SETTLEMENT_BATCH_SIZE", 500),
		SettlementInterval:  getDuration("SETTLEMENT_INTERVAL", time.Hour),

		DiscrepancyThreshold: getDecimal("DISCREPANCY_THRESHOLD_PERCENT", "1"),
		FeeDeviationPoints:   getDecimal("FEE_DEVIATION_POINTS", "0.5"),

		WebhookSecret:     getEnv("WEBHOOK_SECRET", "anchorpay-webhook-secret"),
		WebhookTimeout:    getDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		WebhookMaxRetries: getInt("WEBHOOK_MAX_RETRIES", 5),

		BillingInterval: getDuration("BILLING_INTERVAL", 24*time.Hour),
	}
}

// Validate fails fast on configuration the process cannot run without.
func (c *Config) Validate() error {
	switch c.SecretProvider {
	case "local":
		if c.SecretPassphrase == "" {
			return fmt.Errorf("SECRET_PASSPHRASE is required for the local secret provider")
		}
	case "kms":
		if c.KMSKeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required for the kms secret provider")
		}
	default:
		return fmt.Errorf("unknown SECRET_PROVIDER %q", c.SecretProvider)
	}
	if c.AssetIssuer == "" {
		return fmt.Errorf("ASSET_ISSUER is required")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getDecimal(key, fallback string) decimal.Decimal {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
