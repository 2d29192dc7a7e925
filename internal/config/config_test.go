package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "PROPOSAL_TTL", "EXCHANGE_TTL", "SWEEP_INTERVAL", "RATE_LIMIT_RPM"} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultProposalTTL, cfg.ProposalTTL)
	assert.Equal(t, DefaultExchangeTTL, cfg.ExchangeTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "production")
	setEnv(t, "PROPOSAL_TTL", "24h")
	setEnv(t, "EXCHANGE_TTL", "12h")
	setEnv(t, "SWEEP_INTERVAL", "1m")
	setEnv(t, "RATE_LIMIT_RPM", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.ProposalTTL)
	assert.Equal(t, 12*time.Hour, cfg.ExchangeTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 600, cfg.RateLimitRPM)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_MalformedDurationFallsBack(t *testing.T) {
	setEnv(t, "PROPOSAL_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultProposalTTL, cfg.ProposalTTL)
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:          "8080",
			Env:           "development",
			ProposalTTL:   DefaultProposalTTL,
			ExchangeTTL:   DefaultExchangeTTL,
			SweepInterval: DefaultSweepInterval,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero proposal TTL",
			mutate:  func(c *Config) { c.ProposalTTL = 0 },
			wantErr: "PROPOSAL_TTL",
		},
		{
			name:    "negative exchange TTL",
			mutate:  func(c *Config) { c.ExchangeTTL = -time.Hour },
			wantErr: "EXCHANGE_TTL",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = 0 },
			wantErr: "SWEEP_INTERVAL",
		},
		{
			name:    "secret without URL",
			mutate:  func(c *Config) { c.ReputationSecret = "s3cret" },
			wantErr: "REPUTATION_WEBHOOK_URL",
		},
		{
			name: "secret with URL",
			mutate: func(c *Config) {
				c.ReputationSecret = "s3cret"
				c.ReputationURL = "https://rep.example.com/hook"
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
