package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server            string   `json:"server" env:"ORIGINCHATS_SERVER"`
	Version           string   `json:"version" env:"ORIGINCHATS_VERSION"`
	Host              string   `json:"host" env:"ORIGINCHATS_HOST"`
	Port              int      `json:"port" env:"ORIGINCHATS_PORT"`
	StorePath         string   `json:"store_path" env:"ORIGINCHATS_STORE_PATH"`
	HeartbeatInterval int      `json:"heartbeat_interval" env:"ORIGINCHATS_HEARTBEAT_INTERVAL"` // seconds
	DefaultRoles      []string `json:"default_roles" env:"ORIGINCHATS_DEFAULT_ROLES"`

	RateLimit RateLimitConfig `json:"rate_limiting"`
	Validator ValidatorConfig `json:"validator"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled" env:"ORIGINCHATS_RATE_LIMIT_ENABLED"`
	MessagesPerMinute int  `json:"messages_per_minute" env:"ORIGINCHATS_RATE_LIMIT_PER_MINUTE"`
	BurstLimit        int  `json:"burst_limit" env:"ORIGINCHATS_RATE_LIMIT_BURST"`
	CooldownSeconds   int  `json:"cooldown_seconds" env:"ORIGINCHATS_RATE_LIMIT_COOLDOWN"`
}

type ValidatorConfig struct {
	URL            string `json:"url" env:"ORIGINCHATS_VALIDATOR_URL"`
	Key            string `json:"key" env:"ORIGINCHATS_VALIDATOR_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"ORIGINCHATS_VALIDATOR_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:            "OriginChats",
		Version:           "1.1.0",
		Host:              "127.0.0.1",
		Port:              5613,
		StorePath:         "originchats.db",
		HeartbeatInterval: 30,
		DefaultRoles:      []string{"member"},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			MessagesPerMinute: 30,
			BurstLimit:        5,
			CooldownSeconds:   60,
		},
		Validator: ValidatorConfig{
			TimeoutSeconds: 5,
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, an
// optional JSON config file, then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
