package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ENCRYPTION_MASTER_KEY", "passphrase")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRequiresMasterKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/costshield")
	t.Setenv("ENCRYPTION_MASTER_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when ENCRYPTION_MASTER_KEY is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/costshield")
	t.Setenv("ENCRYPTION_MASTER_KEY", "passphrase")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.Upstream.BaseURL != "https://api.openai.com" {
		t.Errorf("unexpected upstream base URL: %s", cfg.Upstream.BaseURL)
	}
	if cfg.Ledger.DefaultCeilingUSD != 1.00 {
		t.Errorf("expected default ceiling 1.00, got %f", cfg.Ledger.DefaultCeilingUSD)
	}
	if cfg.Recorder.BatchSize != 100 {
		t.Errorf("expected batch size 100, got %d", cfg.Recorder.BatchSize)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis must be opt-in")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/costshield")
	t.Setenv("ENCRYPTION_MASTER_KEY", "passphrase")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("UPSTREAM_TIMEOUT", "30s")
	t.Setenv("LEDGER_DEFAULT_CEILING_USD", "5.50")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.HTTPPort)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Upstream.Timeout)
	}
	if cfg.Ledger.DefaultCeilingUSD != 5.50 {
		t.Errorf("expected ceiling 5.50, got %f", cfg.Ledger.DefaultCeilingUSD)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected Redis enabled")
	}
}

func TestGetEnvHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	t.Setenv("TEST_DURATION", "not-a-duration")
	t.Setenv("TEST_FLOAT", "not-a-float")

	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected fallback 1m, got %v", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1.5); got != 1.5 {
		t.Errorf("expected fallback 1.5, got %f", got)
	}
}
