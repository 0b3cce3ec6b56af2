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
// built-in defaults, applies ORDERWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ORDERWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ORDERWATCH_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ORDERWATCH_CHAIN_ID")

	// ── Scanner ──
	setStr(&cfg.Scanner.WsURL, "ORDERWATCH_SCANNER_WS_URL")

	// ── Oracle ──
	setStr(&cfg.Oracle.OwnershipAPIURL, "ORDERWATCH_ORACLE_OWNERSHIP_API_URL")
	setStr(&cfg.Oracle.RateAPIURL, "ORDERWATCH_ORACLE_RATE_API_URL")
	setDuration(&cfg.Oracle.RateCacheTTL, "ORDERWATCH_ORACLE_RATE_CACHE_TTL")
	setBool(&cfg.Oracle.RateLimit, "ORDERWATCH_ORACLE_RATE_LIMIT")

	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "ORDERWATCH_EXCHANGE_NAME")
	setStr(&cfg.Exchange.Version, "ORDERWATCH_EXCHANGE_VERSION")
	setStr(&cfg.Exchange.VerifyingContract, "ORDERWATCH_EXCHANGE_VERIFYING_CONTRACT")
	setInt64(&cfg.Exchange.OpenSeaNonceOffset, "ORDERWATCH_EXCHANGE_OPENSEA_NONCE_OFFSET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORDERWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ORDERWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDERWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ORDERWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERWATCH_S3_FORCE_PATH_STYLE")

	// ── Reduce ──
	setInt64(&cfg.Reduce.ProtocolFeeBps, "ORDERWATCH_REDUCE_PROTOCOL_FEE_BPS")
	setDuration(&cfg.Reduce.OracleTimeout, "ORDERWATCH_REDUCE_ORACLE_TIMEOUT")
	setInt(&cfg.Reduce.SaveRetries, "ORDERWATCH_REDUCE_SAVE_RETRIES")
	setDuration(&cfg.Reduce.LockTTL, "ORDERWATCH_REDUCE_LOCK_TTL")
	setInt(&cfg.Reduce.SweepBatch, "ORDERWATCH_REDUCE_SWEEP_BATCH")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.SweepInterval, "ORDERWATCH_PIPELINE_SWEEP_INTERVAL")
	setDuration(&cfg.Pipeline.PriceRefreshInterval, "ORDERWATCH_PIPELINE_PRICE_REFRESH_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "ORDERWATCH_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "ORDERWATCH_PIPELINE_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDERWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORDERWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERWATCH_MODE")
	setStr(&cfg.LogLevel, "ORDERWATCH_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
