// Package config defines the top-level configuration for the flowrisk
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLOWRISK_* environment variables.
type Config struct {
	Flow      FlowConfig      `toml:"flow"`
	Perps     PerpsConfig     `toml:"perps"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Risk      RiskConfig      `toml:"risk"`
	Collector CollectorConfig `toml:"collector"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FlowConfig holds Flow EVM endpoints and on-chain contract addresses.
type FlowConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`
	ChainID     int    `toml:"chain_id"`
	// FlowToken is the wrapped FLOW token address the oracle quotes.
	FlowToken string `toml:"flow_token"`
	// StFlowToken is the liquid-staking receipt token contract address.
	StFlowToken string `toml:"stflow_token"`
	// LendingPool is the looping lending-market contract address.
	LendingPool string `toml:"lending_pool"`
	// PriceOracle is the on-chain FLOW/stFLOW price oracle address.
	PriceOracle string `toml:"price_oracle"`
	// Wallets are the addresses whose positions the collector tracks.
	Wallets []string `toml:"wallets"`
	// StakingAPR is the assumed liquid-staking APR for collected snapshots.
	StakingAPR float64 `toml:"staking_apr"`
	// BorrowRate is the assumed lending-market FLOW borrow APR.
	BorrowRate float64 `toml:"borrow_rate"`
	// LiquidationPenalty is the lending market's liquidation bonus taken
	// from the borrower, as a fraction.
	LiquidationPenalty float64 `toml:"liquidation_penalty"`
}

// PerpsConfig holds the perp venue API endpoints and credentials.
type PerpsConfig struct {
	BaseURL          string `toml:"base_url"`
	WsHost           string `toml:"ws_host"`
	Symbol           string `toml:"symbol"`
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// FundingPeriodsPerYear annualizes the venue's per-period funding rate
	// (1095 for 8-hour funding).
	FundingPeriodsPerYear float64 `toml:"funding_periods_per_year"`
	// MaintenanceMarginRatio is the venue's maintenance margin requirement
	// for the hedge position tier.
	MaintenanceMarginRatio float64 `toml:"maintenance_margin_ratio"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds the report-level tunables for the risk calculators.
type RiskConfig struct {
	// PegTolerance is the allowed |peg_ratio - 1| before a de-peg warning.
	PegTolerance float64 `toml:"peg_tolerance"`
	// WarnBand flags health factors within (1, 1+warn_band] and margin
	// ratios within warn_band of maintenance.
	WarnBand float64 `toml:"warn_band"`
	// HedgeBand is the allowed |hedge_ratio - 1| before a warning.
	HedgeBand float64 `toml:"hedge_band"`
	// BasisTolerance is the allowed absolute USD divergence between the
	// quoted basis and perp - spot before a warning.
	BasisTolerance float64 `toml:"basis_tolerance"`
}

// CollectorConfig holds data-collection parameters.
type CollectorConfig struct {
	Enabled              bool     `toml:"enabled"`
	ScrapeInterval       duration `toml:"scrape_interval"`
	EvaluateInterval     duration `toml:"evaluate_interval"`
	MaxSnapshotAge       duration `toml:"max_snapshot_age"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Flow: FlowConfig{
			RPCEndpoint:        "https://mainnet.evm.nodes.onflow.org",
			ChainID:            747,
			StakingAPR:         0.08,
			BorrowRate:         0.05,
			LiquidationPenalty: 0.05,
		},
		Perps: PerpsConfig{
			Symbol:                 "FLOWUSDT",
			FundingPeriodsPerYear:  1095,
			MaintenanceMarginRatio: 0.05,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flowrisk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flowrisk-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			PegTolerance:   0.02,
			WarnBand:       0.05,
			HedgeBand:      0.10,
			BasisTolerance: 0.02,
		},
		Collector: CollectorConfig{
			Enabled:              true,
			ScrapeInterval:       duration{5 * time.Minute},
			EvaluateInterval:     duration{1 * time.Minute},
			MaxSnapshotAge:       duration{15 * time.Minute},
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"liquidation_risk", "near_threshold", "depeg", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"collect":  true,
	"monitor":  true,
	"evaluate": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: collect, monitor, evaluate, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Collection modes need a chain endpoint and at least one wallet.
	needsChain := c.Mode == "collect" || c.Mode == "monitor" || c.Mode == "full"
	if needsChain {
		if c.Flow.RPCEndpoint == "" {
			errs = append(errs, "flow: rpc_endpoint must not be empty for mode "+c.Mode)
		}
		if c.Flow.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("flow: chain_id must be positive, got %d", c.Flow.ChainID))
		}
		if len(c.Flow.Wallets) == 0 {
			errs = append(errs, "flow: at least one wallet must be configured for mode "+c.Mode)
		}
	}

	// Perp credentials come from exactly one source when set.
	if c.Perps.EncryptedKeyPath != "" && c.Perps.KeyPassword == "" {
		errs = append(errs, "perps: key_password is required when encrypted_key_path is set")
	}
	if c.Perps.FundingPeriodsPerYear <= 0 {
		errs = append(errs, "perps: funding_periods_per_year must be > 0")
	}
	if c.Perps.MaintenanceMarginRatio <= 0 || c.Perps.MaintenanceMarginRatio >= 1 {
		errs = append(errs, "perps: maintenance_margin_ratio must be in (0, 1)")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Risk tunables
	if c.Risk.PegTolerance < 0 {
		errs = append(errs, "risk: peg_tolerance must be >= 0")
	}
	if c.Risk.WarnBand < 0 {
		errs = append(errs, "risk: warn_band must be >= 0")
	}
	if c.Risk.HedgeBand < 0 {
		errs = append(errs, "risk: hedge_band must be >= 0")
	}
	if c.Risk.BasisTolerance < 0 {
		errs = append(errs, "risk: basis_tolerance must be >= 0")
	}

	// Collector
	if c.Collector.Enabled {
		if c.Collector.ScrapeInterval.Duration <= 0 {
			errs = append(errs, "collector: scrape_interval must be > 0 when enabled")
		}
		if c.Collector.EvaluateInterval.Duration <= 0 {
			errs = append(errs, "collector: evaluate_interval must be > 0 when enabled")
		}
		if c.Collector.ArchiveRetentionDays < 1 {
			errs = append(errs, "collector: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
