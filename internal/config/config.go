// Package config defines all configuration for the Strategy Agent.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via QUOTE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Chains      ChainsConfig      `mapstructure:"chains"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	State       StateConfig       `mapstructure:"state"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	API         APIConfig         `mapstructure:"api"`
}

// ChainsConfig lists the chain namespaces this deployment serves quotes
// for. A request naming a chain_id outside this list is rejected with
// INVALID_CHAIN by the policy gate's first check.
type ChainsConfig struct {
	Supported []string `mapstructure:"supported"`
}

// DefaultsConfig holds deployment-wide default values. They are loaded
// and (except max_impact_bps) validated, but not applied to requests: a
// policy record that omits a fee gets 10 bps
// (types.MakerPolicy.EffectiveFeeBps), one that omits minConfidence
// gets 0.85 (internal/api), and TTL and impact ceiling have no fallback.
type DefaultsConfig struct {
	TTLSec        int64   `mapstructure:"ttl_sec"`
	FeeBps        int64   `mapstructure:"fee_bps"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	MaxImpactBps  int64   `mapstructure:"max_impact_bps"`
}

// StateConfig tunes the in-memory state store's housekeeping.
// IdempotencyTTL caps how long any cached intent lives regardless of a
// maker policy's own default_ttl_sec (internal/pipeline.New);
// SweepInterval drives the background eviction loop started in
// cmd/quoteagent that bounds how long an expired, never-revisited
// idempotency entry lingers in memory (internal/state.Store.Sweep).
type StateConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// CollaboratorsConfig holds base URLs for the optional external
// pricing/chain-state fetch clients, used when a request omits its
// pricing_snapshot or chain_snapshot inline.
type CollaboratorsConfig struct {
	PricingBaseURL string        `mapstructure:"pricing_base_url"`
	ChainBaseURL   string        `mapstructure:"chain_base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the HTTP boundary server, including the operator
// explainability WebSocket stream.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive/deployment-specific fields use env vars: QUOTE_COLLABORATORS_PRICING_BASE_URL,
// QUOTE_COLLABORATORS_CHAIN_BASE_URL, QUOTE_API_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if url := os.Getenv("QUOTE_COLLABORATORS_PRICING_BASE_URL"); url != "" {
		cfg.Collaborators.PricingBaseURL = url
	}
	if url := os.Getenv("QUOTE_COLLABORATORS_CHAIN_BASE_URL"); url != "" {
		cfg.Collaborators.ChainBaseURL = url
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Chains.Supported) == 0 {
		return fmt.Errorf("chains.supported must list at least one chain id")
	}
	if c.Defaults.TTLSec <= 0 {
		return fmt.Errorf("defaults.ttl_sec must be > 0")
	}
	if c.Defaults.FeeBps < 0 {
		return fmt.Errorf("defaults.fee_bps must be >= 0")
	}
	if c.Defaults.MinConfidence < 0 || c.Defaults.MinConfidence > 1 {
		return fmt.Errorf("defaults.min_confidence must be in [0, 1]")
	}
	if c.State.IdempotencyTTL <= 0 {
		return fmt.Errorf("state.idempotency_ttl must be > 0")
	}
	if c.State.SweepInterval <= 0 {
		return fmt.Errorf("state.sweep_interval must be > 0")
	}
	if c.API.Port == 0 {
		return fmt.Errorf("api.port is required")
	}
	return nil
}
