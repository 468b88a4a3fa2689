// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is populated from CI_-prefixed environment variables, e.g.
// CI_MYSQL_DSN, CI_REDIS_URL, CI_REGISTRY_DIR.
type Config struct {
	MySQLDSN    string `envconfig:"MYSQL_DSN" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	RegistryDir string `envconfig:"REGISTRY_DIR" default:"./models"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	Lookback time.Duration `envconfig:"LOOKBACK" default:"0"`
	Workers  int           `envconfig:"WORKERS" default:"0"`

	RulesPath string `envconfig:"RULES_PATH"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ci", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
