// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/CodeByMAB/Falconer/internal/policy"
	"github.com/CodeByMAB/Falconer/internal/validation"
)

// Config holds application configuration
type Config struct {
	Env       string // dev, prod
	Network   string // mainnet, testnet, regtest
	DataDir   string
	LogLevel  string
	LogPretty bool
	LogFile   string
	Port      int

	// Bitcoin Core RPC
	BitcoindURL     string
	BitcoindRPCUser string
	BitcoindRPCPass string

	// Electrs REST
	ElectrsURL string

	// LNbits wallet service
	LNbitsURL      string
	LNbitsAPIKey   string
	LNbitsWalletID string

	// Mempool API
	MempoolURL   string
	MempoolWSURL string

	// Spending policy
	MaxDailySpendSats      int64
	MaxSingleTxSats        int64
	AllowedDestinations    []string
	MaxFeeRateSatsPerVbyte int64
	RequireConfirmation    bool

	// Funding proposals
	FundingEnabled           bool
	FundingThresholdSats     int64
	FundingDefaultAmountSats int64
	FundingMaxPending        int
	FundingMaxAgeHours       int

	// Approval webhook
	WebhookSecret      string
	ReviewWebhookURL   string
	ReviewWebhookToken string

	// Ledger retention and backup
	RetentionDays   int
	BackupEnabled   bool
	BackupEndpoint  string
	BackupRegion    string
	BackupBucket    string
	BackupAccessKey string
	BackupSecretKey string

	// Autonomous agent
	AgentCycleSeconds        int
	AgentErrorBackoffSeconds int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Env:       getEnv("ENV", "dev"),
		Network:   getEnv("BITCOIN_NETWORK", "mainnet"),
		DataDir:   getEnv("DATA_DIR", "./data"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		LogFile:   getEnv("LOG_FILE", ""),
		Port:      getEnvAsInt("PORT", 8080),

		BitcoindURL:     getEnv("BITCOIND_URL", "http://127.0.0.1:8332"),
		BitcoindRPCUser: getEnv("BITCOIND_RPC_USER", "bitcoin"),
		BitcoindRPCPass: getEnv("BITCOIND_RPC_PASS", ""),

		ElectrsURL: getEnv("ELECTRS_URL", "http://127.0.0.1:3002"),

		LNbitsURL:      getEnv("LNBITS_URL", "http://127.0.0.1:5000"),
		LNbitsAPIKey:   getEnv("LNBITS_API_KEY", ""),
		LNbitsWalletID: getEnv("LNBITS_WALLET_ID", ""),

		MempoolURL:   getEnv("MEMPOOL_URL", "https://mempool.space/api"),
		MempoolWSURL: getEnv("MEMPOOL_WS_URL", "wss://mempool.space/api/v1/ws"),

		MaxDailySpendSats:      getEnvAsInt64("MAX_DAILY_SPEND_SATS", 100000),
		MaxSingleTxSats:        getEnvAsInt64("MAX_SINGLE_TX_SATS", 50000),
		AllowedDestinations:    getEnvAsList("ALLOWED_DESTINATIONS"),
		MaxFeeRateSatsPerVbyte: getEnvAsInt64("MAX_FEE_RATE_SATS_PER_VBYTE", 0),
		RequireConfirmation:    getEnvAsBool("REQUIRE_CONFIRMATION", true),

		FundingEnabled:           getEnvAsBool("FUNDING_PROPOSAL_ENABLED", false),
		FundingThresholdSats:     getEnvAsInt64("FUNDING_PROPOSAL_THRESHOLD_SATS", 50000),
		FundingDefaultAmountSats: getEnvAsInt64("FUNDING_PROPOSAL_DEFAULT_AMOUNT_SATS", 100000),
		FundingMaxPending:        getEnvAsInt("FUNDING_PROPOSAL_MAX_PENDING", 3),
		FundingMaxAgeHours:       getEnvAsInt("FUNDING_PROPOSAL_MAX_AGE_HOURS", 24),

		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		ReviewWebhookURL:   getEnv("REVIEW_WEBHOOK_URL", ""),
		ReviewWebhookToken: getEnv("REVIEW_WEBHOOK_TOKEN", ""),

		RetentionDays:   getEnvAsInt("RETENTION_DAYS", 90),
		BackupEnabled:   getEnvAsBool("BACKUP_ENABLED", false),
		BackupEndpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupRegion:    getEnv("BACKUP_S3_REGION", "auto"),
		BackupBucket:    getEnv("BACKUP_S3_BUCKET", ""),
		BackupAccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupSecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),

		AgentCycleSeconds:        getEnvAsInt("AGENT_CYCLE_SECONDS", 300),
		AgentErrorBackoffSeconds: getEnvAsInt("AGENT_ERROR_BACKOFF_SECONDS", 60),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent.
// Policy limit invariants fail here, before any component is built.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("ENV must be dev or prod, got %q", c.Env)
	}
	switch validation.Network(c.Network) {
	case validation.NetworkMainnet, validation.NetworkTestnet, validation.NetworkRegtest:
	default:
		return fmt.Errorf("BITCOIN_NETWORK must be mainnet, testnet, or regtest, got %q", c.Network)
	}
	// Regtest addresses use a bech32 prefix the validator does not model,
	// so the allowlist is only checked on public networks.
	if validation.Network(c.Network) != validation.NetworkRegtest {
		if err := validation.ValidateAddresses(c.AllowedDestinations, validation.Network(c.Network)); err != nil {
			return fmt.Errorf("ALLOWED_DESTINATIONS: %w", err)
		}
	}
	if c.MaxDailySpendSats <= 0 {
		return fmt.Errorf("MAX_DAILY_SPEND_SATS must be positive")
	}
	if c.MaxSingleTxSats <= 0 || c.MaxSingleTxSats > c.MaxDailySpendSats {
		return fmt.Errorf("MAX_SINGLE_TX_SATS must be positive and not exceed MAX_DAILY_SPEND_SATS")
	}
	if c.FundingEnabled && c.FundingMaxAgeHours <= 0 {
		return fmt.Errorf("FUNDING_PROPOSAL_MAX_AGE_HOURS must be positive when funding proposals are enabled")
	}
	if c.Production() && c.WebhookSecret == "" && c.FundingEnabled {
		return fmt.Errorf("WEBHOOK_SECRET is required in production when funding proposals are enabled")
	}
	if c.BackupEnabled && c.BackupBucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when backups are enabled")
	}
	return nil
}

// Production reports whether the process runs with production settings.
func (c *Config) Production() bool {
	return c.Env == "prod"
}

// SpendingPolicy maps the configured limits onto a policy definition.
func (c *Config) SpendingPolicy() policy.Policy {
	return policy.Policy{
		MaxDailySpendSats:      c.MaxDailySpendSats,
		MaxSingleTxSats:        c.MaxSingleTxSats,
		AllowedDestinations:    c.AllowedDestinations,
		MaxFeeRateSatsPerVbyte: c.MaxFeeRateSatsPerVbyte,
		RequireConfirmation:    c.RequireConfirmation,
	}
}

// DatabasePath returns the ledger database location under the data dir.
func (c *Config) DatabasePath() string {
	return c.DataDir + "/falconer.db"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
