package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:               "dev",
		Network:           "mainnet",
		DataDir:           "./data",
		MaxDailySpendSats: 100_000,
		MaxSingleTxSats:   50_000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "DATA_DIR"},
		{"bad env", func(c *Config) { c.Env = "staging" }, "ENV must be"},
		{"bad network", func(c *Config) { c.Network = "signet" }, "BITCOIN_NETWORK"},
		{"zero daily cap", func(c *Config) { c.MaxDailySpendSats = 0 }, "MAX_DAILY_SPEND_SATS"},
		{"single exceeds daily", func(c *Config) { c.MaxSingleTxSats = 200_000 }, "MAX_SINGLE_TX_SATS"},
		{
			"prod funding needs secret",
			func(c *Config) { c.Env = "prod"; c.FundingEnabled = true; c.FundingMaxAgeHours = 24 },
			"WEBHOOK_SECRET",
		},
		{
			"funding needs positive max age",
			func(c *Config) { c.FundingEnabled = true },
			"FUNDING_PROPOSAL_MAX_AGE_HOURS",
		},
		{
			"backup needs bucket",
			func(c *Config) { c.BackupEnabled = true },
			"BACKUP_S3_BUCKET",
		},
		{
			"malformed allowlist entry",
			func(c *Config) { c.AllowedDestinations = []string{"not-an-address"} },
			"ALLOWED_DESTINATIONS",
		},
		{
			"testnet address rejected on mainnet",
			func(c *Config) {
				c.AllowedDestinations = []string{"tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"}
			},
			"ALLOWED_DESTINATIONS",
		},
		{
			"valid mainnet allowlist",
			func(c *Config) {
				c.AllowedDestinations = []string{"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"}
			},
			"",
		},
		{
			"regtest skips allowlist format check",
			func(c *Config) {
				c.Network = "regtest"
				c.AllowedDestinations = []string{"bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"}
			},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSpendingPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.AllowedDestinations = []string{"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"}
	cfg.MaxFeeRateSatsPerVbyte = 25

	pol := cfg.SpendingPolicy()
	assert.Equal(t, int64(100_000), pol.MaxDailySpendSats)
	assert.Equal(t, int64(50_000), pol.MaxSingleTxSats)
	assert.Equal(t, cfg.AllowedDestinations, pol.AllowedDestinations)
	assert.Equal(t, int64(25), pol.MaxFeeRateSatsPerVbyte)
	require.NoError(t, pol.Validate())
}

func TestProduction(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.Production())
	cfg.Env = "prod"
	assert.True(t, cfg.Production())
}

func TestDatabasePath(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "./data/falconer.db", cfg.DatabasePath())
}
