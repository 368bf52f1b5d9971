package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration
type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`

	Log     LogConfig     `yaml:"log"`
	Webhook WebhookConfig `yaml:"webhook"`
	Cache   CacheConfig   `yaml:"cache"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// WebhookConfig controls inbound event processing
type WebhookConfig struct {
	SigningSecret   string        `yaml:"signingSecret"`
	SignatureWindow time.Duration `yaml:"signatureWindow"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryBaseDelay  time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay   time.Duration `yaml:"retryMaxDelay"`
	HandlerTimeout  time.Duration `yaml:"handlerTimeout"`
}

// CacheConfig controls the role cache lease windows
type CacheConfig struct {
	RoleTTL        time.Duration `yaml:"roleTTL"`
	SessionSyncTTL time.Duration `yaml:"sessionSyncTTL"`
	SweepInterval  time.Duration `yaml:"sweepInterval"`
}

// BreakerConfig controls the shared circuit breaker
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failureThreshold"`
	Cooldown          time.Duration `yaml:"cooldown"`
	HalfOpenSuccesses int           `yaml:"halfOpenSuccesses"`
	CallTimeout       time.Duration `yaml:"callTimeout"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		DataDir:    "/var/lib/bastion",
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		Webhook: WebhookConfig{
			SignatureWindow: 5 * time.Minute,
			MaxRetries:      3,
			RetryBaseDelay:  time.Second,
			RetryMaxDelay:   60 * time.Second,
			HandlerTimeout:  10 * time.Second,
		},
		Cache: CacheConfig{
			RoleTTL:        30 * time.Second,
			SessionSyncTTL: 60 * time.Second,
			SweepInterval:  time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			Cooldown:          30 * time.Second,
			HalfOpenSuccesses: 2,
			CallTimeout:       5 * time.Second,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Webhook.SigningSecret == "" {
		return fmt.Errorf("webhook.signingSecret is required")
	}
	if c.Webhook.MaxRetries < 1 {
		return fmt.Errorf("webhook.maxRetries must be at least 1")
	}
	if c.Cache.RoleTTL <= 0 {
		return fmt.Errorf("cache.roleTTL must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failureThreshold must be at least 1")
	}
	return nil
}
