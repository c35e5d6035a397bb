package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Flow.Wallets = []string{"0x1111111111111111111111111111111111111111"}
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "redis: addr")
}

func TestValidateRequiresWalletsForCollection(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Mode = "collect"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one wallet")

	// Server-only mode does not touch the chain.
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWRISK_MODE", "monitor")
	t.Setenv("FLOWRISK_RISK_WARN_BAND", "0.08")
	t.Setenv("FLOWRISK_FLOW_WALLETS", "0xaaa, 0xbbb")
	t.Setenv("FLOWRISK_COLLECTOR_SCRAPE_INTERVAL", "90s")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 0.08, cfg.Risk.WarnBand)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Flow.Wallets)
	assert.Equal(t, "1m30s", cfg.Collector.ScrapeInterval.Duration.String())
}

func TestRedactedConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Perps.ApiSecret = "hunter2"
	cfg.Postgres.Password = "pg-pass"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Perps.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Perps.ApiSecret)

	// Redacted copy never leaks the secret anywhere.
	assert.False(t, strings.Contains(red.Perps.ApiSecret, "hunter"))
}
