package models

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type EnvConfig struct {
	DatabaseURL string `env:"POLLVOTE_DATABASE_URL"`
	Port        string `env:"POLLVOTE_PORT" default:"23495"`
	Debug       bool   `env:"POLLVOTE_DEBUG" default:"false"`

	RedisURL     string   `env:"POLLVOTE_REDIS_URL"`
	KafkaBrokers []string `env:"POLLVOTE_KAFKA_BROKERS"`
	KafkaTopic   string   `env:"POLLVOTE_KAFKA_TOPIC" default:"poll-votes"`

	PropagationTimeout      time.Duration `env:"POLLVOTE_PROPAGATION_TIMEOUT" default:"2s"`
	PropagationPollInterval time.Duration `env:"POLLVOTE_PROPAGATION_POLL_INTERVAL" default:"100ms"`

	TogglesPerMinute int `env:"POLLVOTE_TOGGLES_PER_MINUTE" default:"60"`
	ToggleBurst      int `env:"POLLVOTE_TOGGLE_BURST" default:"20"`

	// Older polls were created without a type and used to be treated as
	// single choice. Off by default: a missing type is reported as an error.
	LegacySingleChoiceFallback bool `env:"POLLVOTE_LEGACY_SINGLE_CHOICE_FALLBACK" default:"false"`
}

func ReadEnvConfig() (EnvConfig, error) {
	// A missing .env file is fine, the environment is used as is.
	_ = godotenv.Load()

	var config EnvConfig
	if err := env.Load(&config, &env.Options{SliceSep: ","}); err != nil {
		return config, fmt.Errorf("reading environment: %w", err)
	}
	if config.DatabaseURL == "" && !config.Debug {
		return config, fmt.Errorf("POLLVOTE_DATABASE_URL is required outside debug mode")
	}
	if config.PropagationTimeout <= 0 {
		return config, fmt.Errorf("POLLVOTE_PROPAGATION_TIMEOUT must be positive")
	}
	return config, nil
}
