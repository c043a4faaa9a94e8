// Package config provides configuration management for SentryHub.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tdnguyen/sentryhub/internal/observability"
)

// Config holds all SentryHub configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Storage   StorageConfig           `yaml:"storage"`
	Redis     RedisConfig             `yaml:"redis"`
	Security  SecurityConfig          `yaml:"security"`
	RateLimit RateLimitConfig         `yaml:"ratelimit"`
	Logging   observability.LogConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	// Backend is "redis" or "memory". Memory is single-node and
	// non-durable; intended for development and tests.
	Backend string `yaml:"backend"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// SecurityConfig holds the shared device secret reference. The secret
// itself lives in the environment, never in the config file.
type SecurityConfig struct {
	DeviceSecretEnv string `yaml:"device_secret_env"`
}

// RateLimitConfig holds per-client ingest rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file, overlaying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "redis",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "SENTRYHUB_REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		Security: SecurityConfig{
			DeviceSecretEnv: "DEVICE_HMAC_SECRET",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DeviceSecret resolves the shared device secret from the environment.
func (c *Config) DeviceSecret() (string, error) {
	secret := os.Getenv(c.Security.DeviceSecretEnv)
	if secret == "" {
		return "", fmt.Errorf("device secret not set in env var %s", c.Security.DeviceSecretEnv)
	}
	return secret, nil
}

// RedisPassword resolves the optional Redis password from the environment.
func (c *Config) RedisPassword() string {
	return os.Getenv(c.Redis.PasswordEnv)
}
