// Package config defines the top-level configuration for the order watcher
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORDERWATCH_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Oracle   OracleConfig   `toml:"oracle"`
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Reduce   ReduceConfig   `toml:"reduce"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds Ethereum node connection parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// ScannerConfig holds the blockchain scanner event-feed parameters.
type ScannerConfig struct {
	WsURL string `toml:"ws_url"`
}

// OracleConfig holds endpoints for off-chain asset ownership and currency
// rate lookups.
type OracleConfig struct {
	OwnershipAPIURL string   `toml:"ownership_api_url"`
	RateAPIURL      string   `toml:"rate_api_url"`
	RateCacheTTL    duration `toml:"rate_cache_ttl"`
	RateLimit       bool     `toml:"rate_limit"`
}

// ExchangeConfig holds the on-chain exchange contract identity used for
// EIP-712 signature validation, plus foreign-exchange quirks.
type ExchangeConfig struct {
	Name               string `toml:"name"`
	Version            string `toml:"version"`
	VerifyingContract  string `toml:"verifying_contract"`
	OpenSeaNonceOffset int64  `toml:"opensea_nonce_offset"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReduceConfig holds reduction-engine tuning parameters.
type ReduceConfig struct {
	ProtocolFeeBps int64    `toml:"protocol_fee_bps"`
	OracleTimeout  duration `toml:"oracle_timeout"`
	SaveRetries    int      `toml:"save_retries"`
	LockTTL        duration `toml:"lock_ttl"`
	SweepBatch     int      `toml:"sweep_batch"`
}

// PipelineConfig holds background-job scheduling parameters.
type PipelineConfig struct {
	SweepInterval        duration `toml:"sweep_interval"`
	PriceRefreshInterval duration `toml:"price_refresh_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
		},
		Scanner: ScannerConfig{
			WsURL: "ws://localhost:8080/v0.1/subscribe",
		},
		Oracle: OracleConfig{
			RateCacheTTL: duration{5 * time.Minute},
			RateLimit:    true,
		},
		Exchange: ExchangeConfig{
			Name:               "Exchange",
			Version:            "2",
			OpenSeaNonceOffset: 0,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "orderwatch",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "orderwatch-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Reduce: ReduceConfig{
			ProtocolFeeBps: 0,
			OracleTimeout:  duration{5 * time.Second},
			SaveRetries:    5,
			LockTTL:        duration{30 * time.Second},
			SweepBatch:     500,
		},
		Pipeline: PipelineConfig{
			SweepInterval:        duration{time.Hour},
			PriceRefreshInterval: duration{time.Hour},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"pipeline_error", "archive_complete"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"index":   true,
	"sweep":   true,
	"archive": true,
	"full":    true,
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

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, sweep, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain — reduction resolves balances and decimals on-chain.
	needsChain := mode == "index" || mode == "sweep" || mode == "full"
	if needsChain {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
	}

	// Scanner — the event feed only runs in indexing modes.
	if mode == "index" || mode == "full" {
		if c.Scanner.WsURL == "" {
			errs = append(errs, "scanner: ws_url must not be empty for mode "+c.Mode)
		}
	}

	// Exchange
	if needsChain {
		if c.Exchange.Name == "" {
			errs = append(errs, "exchange: name must not be empty")
		}
		if c.Exchange.VerifyingContract == "" {
			errs = append(errs, "exchange: verifying_contract must not be empty")
		}
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
	if needsChain {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only the archive job touches object storage.
	if mode == "archive" || mode == "full" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Reduce
	if c.Reduce.ProtocolFeeBps < 0 || c.Reduce.ProtocolFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("reduce: protocol_fee_bps must be 0-10000, got %d", c.Reduce.ProtocolFeeBps))
	}
	if c.Reduce.SaveRetries < 1 {
		errs = append(errs, "reduce: save_retries must be >= 1")
	}
	if c.Reduce.SweepBatch < 1 {
		errs = append(errs, "reduce: sweep_batch must be >= 1")
	}

	// Pipeline
	if c.Pipeline.ArchiveRetentionDays < 1 {
		errs = append(errs, "pipeline: archive_retention_days must be >= 1")
	}
	if c.Pipeline.SweepInterval.Duration <= 0 {
		errs = append(errs, "pipeline: sweep_interval must be positive")
	}
	if c.Pipeline.PriceRefreshInterval.Duration <= 0 {
		errs = append(errs, "pipeline: price_refresh_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
