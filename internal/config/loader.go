package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLOWRISK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLOWRISK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Flow ──
	setStr(&cfg.Flow.RPCEndpoint, "FLOWRISK_FLOW_RPC_ENDPOINT")
	setInt(&cfg.Flow.ChainID, "FLOWRISK_FLOW_CHAIN_ID")
	setStr(&cfg.Flow.FlowToken, "FLOWRISK_FLOW_FLOW_TOKEN")
	setStr(&cfg.Flow.StFlowToken, "FLOWRISK_FLOW_STFLOW_TOKEN")
	setStr(&cfg.Flow.LendingPool, "FLOWRISK_FLOW_LENDING_POOL")
	setStr(&cfg.Flow.PriceOracle, "FLOWRISK_FLOW_PRICE_ORACLE")
	setStringSlice(&cfg.Flow.Wallets, "FLOWRISK_FLOW_WALLETS")
	setFloat64(&cfg.Flow.StakingAPR, "FLOWRISK_FLOW_STAKING_APR")
	setFloat64(&cfg.Flow.BorrowRate, "FLOWRISK_FLOW_BORROW_RATE")
	setFloat64(&cfg.Flow.LiquidationPenalty, "FLOWRISK_FLOW_LIQUIDATION_PENALTY")

	// ── Perps ──
	setStr(&cfg.Perps.BaseURL, "FLOWRISK_PERPS_BASE_URL")
	setStr(&cfg.Perps.WsHost, "FLOWRISK_PERPS_WS_HOST")
	setStr(&cfg.Perps.Symbol, "FLOWRISK_PERPS_SYMBOL")
	setStr(&cfg.Perps.ApiKey, "FLOWRISK_PERPS_API_KEY")
	setStr(&cfg.Perps.ApiSecret, "FLOWRISK_PERPS_API_SECRET")
	setStr(&cfg.Perps.EncryptedKeyPath, "FLOWRISK_PERPS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Perps.KeyPassword, "FLOWRISK_PERPS_KEY_PASSWORD")
	setFloat64(&cfg.Perps.FundingPeriodsPerYear, "FLOWRISK_PERPS_FUNDING_PERIODS_PER_YEAR")
	setFloat64(&cfg.Perps.MaintenanceMarginRatio, "FLOWRISK_PERPS_MAINTENANCE_MARGIN_RATIO")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLOWRISK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOWRISK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOWRISK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOWRISK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOWRISK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOWRISK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOWRISK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOWRISK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOWRISK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOWRISK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLOWRISK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOWRISK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWRISK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOWRISK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOWRISK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOWRISK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLOWRISK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOWRISK_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOWRISK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOWRISK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOWRISK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOWRISK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOWRISK_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.PegTolerance, "FLOWRISK_RISK_PEG_TOLERANCE")
	setFloat64(&cfg.Risk.WarnBand, "FLOWRISK_RISK_WARN_BAND")
	setFloat64(&cfg.Risk.HedgeBand, "FLOWRISK_RISK_HEDGE_BAND")
	setFloat64(&cfg.Risk.BasisTolerance, "FLOWRISK_RISK_BASIS_TOLERANCE")

	// ── Collector ──
	setBool(&cfg.Collector.Enabled, "FLOWRISK_COLLECTOR_ENABLED")
	setDuration(&cfg.Collector.ScrapeInterval, "FLOWRISK_COLLECTOR_SCRAPE_INTERVAL")
	setDuration(&cfg.Collector.EvaluateInterval, "FLOWRISK_COLLECTOR_EVALUATE_INTERVAL")
	setDuration(&cfg.Collector.MaxSnapshotAge, "FLOWRISK_COLLECTOR_MAX_SNAPSHOT_AGE")
	setInt(&cfg.Collector.ArchiveRetentionDays, "FLOWRISK_COLLECTOR_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Collector.ArchiveInterval, "FLOWRISK_COLLECTOR_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLOWRISK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLOWRISK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FLOWRISK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FLOWRISK_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLOWRISK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOWRISK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLOWRISK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLOWRISK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOWRISK_MODE")
	setStr(&cfg.LogLevel, "FLOWRISK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
