package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Exchange.VerifyingContract = "0x9757f2d2b135150bbeb65308d4a91804107cd8d6"
	cfg.Oracle.RateAPIURL = "http://localhost:8090"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("Validate() = %v, want mode complaint", err)
	}
}

func TestValidateArchiveModeSkipsChain(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "archive"
	cfg.Chain.RPCURL = ""
	cfg.Scanner.WsURL = ""
	cfg.Exchange.VerifyingContract = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for archive mode", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Reduce.SweepBatch = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"log_level", "redis", "sweep_batch"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ORDERWATCH_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("ORDERWATCH_REDUCE_ORACLE_TIMEOUT", "90s")
	t.Setenv("ORDERWATCH_NOTIFY_EVENTS", "pipeline_error, archive_complete")
	t.Setenv("ORDERWATCH_CHAIN_ID", "5")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("Postgres.Password = %q", cfg.Postgres.Password)
	}
	if cfg.Reduce.OracleTimeout.Duration != 90*time.Second {
		t.Errorf("Reduce.OracleTimeout = %v", cfg.Reduce.OracleTimeout.Duration)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "archive_complete" {
		t.Errorf("Notify.Events = %v", cfg.Notify.Events)
	}
	if cfg.Chain.ChainID != 5 {
		t.Errorf("Chain.ChainID = %d", cfg.Chain.ChainID)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.S3.SecretKey != "***" || red.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", red)
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Error("original config mutated")
	}
	red.Notify.Events[0] = "mutated"
	if cfg.Notify.Events[0] == "mutated" {
		t.Error("redacted copy shares Events slice with original")
	}
}
