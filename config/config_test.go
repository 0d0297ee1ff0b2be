package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "followerd.yaml")
	if err := os.WriteFile(path, []byte("maxLookBehind: 500\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatewayURL != "https://gateway.elrond.com" {
		t.Fatalf("unexpected default gatewayUrl: %q", cfg.GatewayURL)
	}
	if cfg.RoundDuration.Duration != 6*time.Second {
		t.Fatalf("unexpected default roundDuration: %s", cfg.RoundDuration.Duration)
	}
	if cfg.PruneGracePeriod.Duration != 10*time.Minute {
		t.Fatalf("unexpected default pruneGracePeriod: %s", cfg.PruneGracePeriod.Duration)
	}
	if cfg.MaxLookBehind != 500 {
		t.Fatalf("unexpected maxLookBehind: %d", cfg.MaxLookBehind)
	}
}

func TestLoadParsesDurationsAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "followerd.yaml")
	body := `
gatewayUrl: "https://example.invalid"
pollInterval: "2s"
roundDuration: "6s"
pruneGracePeriod: "5m"
maxLookBehind: 10
flags:
  waitForFinalizedCrossShardSmartContractResults: true
  notifyEmptyBlocks: true
rateLimit:
  requestsPerSecond: 20
  burst: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Fatalf("unexpected pollInterval: %s", cfg.PollInterval.Duration)
	}
	if cfg.PruneGracePeriod.Duration != 5*time.Minute {
		t.Fatalf("unexpected pruneGracePeriod: %s", cfg.PruneGracePeriod.Duration)
	}
	if !cfg.Flags.WaitForFinalizedCrossShardSmartContractResults {
		t.Fatalf("expected reconciliation flag to be true")
	}
	if !cfg.Flags.NotifyEmptyBlocks {
		t.Fatalf("expected notifyEmptyBlocks to be true")
	}
	if cfg.RateLimit.RequestsPerSecond != 20 {
		t.Fatalf("unexpected rate limit: %v", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestValidateRejectsNegativeRateLimit(t *testing.T) {
	cfg := &Config{
		GatewayURL:       "https://example.invalid",
		PollInterval:     Duration{6 * time.Second},
		RoundDuration:    Duration{6 * time.Second},
		PruneGracePeriod: Duration{10 * time.Minute},
		RateLimit:        RateLimitConfig{RequestsPerSecond: -1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative rate limit")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
