// Package config loads followerd's runtime configuration from YAML.
// Durations are human-readable strings unmarshalled through a custom
// UnmarshalYAML rather than raw nanosecond integers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling of strings
// like "6s" or "10m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for followerd.
type Config struct {
	GatewayURL       string          `yaml:"gatewayUrl"`
	ListenAddress    string          `yaml:"listenAddress"`
	PollInterval     Duration        `yaml:"pollInterval"`
	RoundDuration    Duration        `yaml:"roundDuration"`
	PruneGracePeriod Duration        `yaml:"pruneGracePeriod"`
	MaxLookBehind    uint64          `yaml:"maxLookBehind"`
	Flags            FlagsConfig     `yaml:"flags"`
	RateLimit        RateLimitConfig `yaml:"rateLimit"`
	Logging          LoggingConfig   `yaml:"logging"`
}

// FlagsConfig carries the behavioral toggles the core accepts: whether to
// wait on cross-shard smart-contract-result reconciliation, whether to
// notify on empty blocks, and whether to include transactions that merely
// originate on a shard without settling there.
type FlagsConfig struct {
	WaitForFinalizedCrossShardSmartContractResults bool `yaml:"waitForFinalizedCrossShardSmartContractResults"`
	NotifyEmptyBlocks                              bool `yaml:"notifyEmptyBlocks"`
	IncludeCrossShardStartedTransactions           bool `yaml:"includeCrossShardStartedTransactions"`
}

// RateLimitConfig bounds outbound gateway requests per second.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Service string `yaml:"service"`
	Env     string `yaml:"env"`
	File    string `yaml:"file"`
}

// Load reads and parses a YAML config file, applying defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.GatewayURL) == "" {
		c.GatewayURL = "https://gateway.elrond.com"
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = 6 * time.Second
	}
	if c.RoundDuration.Duration <= 0 {
		c.RoundDuration.Duration = 6 * time.Second
	}
	if c.PruneGracePeriod.Duration <= 0 {
		c.PruneGracePeriod.Duration = 10 * time.Minute
	}
	if strings.TrimSpace(c.Logging.Service) == "" {
		c.Logging.Service = "followerd"
	}
}

// Validate returns the first violated constraint, checking one at a time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GatewayURL) == "" {
		return fmt.Errorf("gatewayUrl must not be empty")
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	if c.RoundDuration.Duration <= 0 {
		return fmt.Errorf("roundDuration must be positive")
	}
	if c.PruneGracePeriod.Duration <= 0 {
		return fmt.Errorf("pruneGracePeriod must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must not be negative")
	}
	return nil
}
