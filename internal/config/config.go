package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contains client configuration parameters. Values come from the
// environment, optionally seeded from a .env file in the working directory.
type Config struct {
	APIURL      string        `env:"LUMEN_API_URL" envDefault:"https://api.lumen.studio"`
	DataDir     string        `env:"LUMEN_DATA_DIR"`
	LogLevel    string        `env:"LUMEN_LOG_LEVEL" envDefault:"info"`
	LogFormat   string        `env:"LUMEN_LOG_FORMAT" envDefault:"auto"`
	HTTPTimeout time.Duration `env:"LUMEN_HTTP_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from the environment. A missing .env file is not an
// error; explicit environment variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("LUMEN_API_URL must not be empty")
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default data directory: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "lumen")
	}

	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("LUMEN_HTTP_TIMEOUT must be positive, got %s", cfg.HTTPTimeout)
	}

	return &cfg, nil
}
