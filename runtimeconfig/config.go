// Package runtimeconfig loads the daemon's config file. YAML and JSON are
// both accepted; JSON is parsed by the YAML decoder.
package runtimeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	ListenAddr       string          `yaml:"listenAddr" json:"listenAddr"`
	ProviderDB       string          `yaml:"providerDb" json:"providerDb"`
	RecordsDB        string          `yaml:"recordsDb" json:"recordsDb"`
	RedisAddr        string          `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword    string          `yaml:"redisPassword" json:"redisPassword"`
	OTelEnabled      bool            `yaml:"otelEnabled" json:"otelEnabled"`
	RateLimit        RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Retry            RetryConfig     `yaml:"retry" json:"retry"`
	WindowPastDays   int             `yaml:"windowPastDays" json:"windowPastDays"`
	WindowFutureDays int             `yaml:"windowFutureDays" json:"windowFutureDays"`
}

type RateLimitConfig struct {
	MaxRequests   int `yaml:"maxRequests" json:"maxRequests"`
	WindowSeconds int `yaml:"windowSeconds" json:"windowSeconds"`
}

type RetryConfig struct {
	MaxAttempts      int `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelaySeconds int `yaml:"baseDelaySeconds" json:"baseDelaySeconds"`
	MaxDelaySeconds  int `yaml:"maxDelaySeconds" json:"maxDelaySeconds"`
	SweepSeconds     int `yaml:"sweepSeconds" json:"sweepSeconds"`
	MaxItems         int `yaml:"maxItems" json:"maxItems"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8087",
		ProviderDB: "data/providers.db",
		RecordsDB:  "data/records.db",
		RateLimit: RateLimitConfig{
			MaxRequests:   60,
			WindowSeconds: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			BaseDelaySeconds: 1,
			MaxDelaySeconds:  300,
			SweepSeconds:     10,
			MaxItems:         1000,
		},
		WindowPastDays:   7,
		WindowFutureDays: 60,
	}
}

// Load reads the config file, filling unset fields from Default. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q: %w", absPath, err)
	}
	return cfg.normalize(), nil
}

func (c Config) normalize() Config {
	def := Default()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.ProviderDB) == "" {
		c.ProviderDB = def.ProviderDB
	}
	if strings.TrimSpace(c.RecordsDB) == "" {
		c.RecordsDB = def.RecordsDB
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = def.RateLimit.MaxRequests
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.BaseDelaySeconds <= 0 {
		c.Retry.BaseDelaySeconds = def.Retry.BaseDelaySeconds
	}
	if c.Retry.MaxDelaySeconds <= 0 {
		c.Retry.MaxDelaySeconds = def.Retry.MaxDelaySeconds
	}
	if c.Retry.SweepSeconds <= 0 {
		c.Retry.SweepSeconds = def.Retry.SweepSeconds
	}
	if c.Retry.MaxItems <= 0 {
		c.Retry.MaxItems = def.Retry.MaxItems
	}
	if c.WindowPastDays <= 0 {
		c.WindowPastDays = def.WindowPastDays
	}
	if c.WindowFutureDays <= 0 {
		c.WindowFutureDays = def.WindowFutureDays
	}
	return c
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

func (c RetryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}
