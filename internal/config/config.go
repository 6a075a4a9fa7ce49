package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const defaultServerAddr = "localhost:8000"

type Config struct {
	ServerAddr     string   `env:"ASKDESK_ADDR"`
	AllowedOrigins []string `env:"ASKDESK_ALLOWED_ORIGINS" envSeparator:","`
}

// NewConfig builds the config from the environment, then applies any
// non-empty flag overrides.
func NewConfig(serverAddr string, allowedOrigins []string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}

	if cfg.ServerAddr == "" {
		cfg.ServerAddr = defaultServerAddr
	}

	return &cfg, nil
}
