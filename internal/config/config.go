package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"climate-predict"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"5000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// ModelDir is scanned once at startup for model files.
	ModelDir string `env:"MODEL_DIR" envDefault:"models"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// StatsInterval controls how often per-model prediction counts are logged (0 = disabled).
	StatsInterval time.Duration `env:"STATS_INTERVAL" envDefault:"15m"`

	// Per-model circuit breaker.
	BreakerFailures int           `env:"BREAKER_FAILURES" envDefault:"5"` // consecutive failures before opening (0 = disabled)
	BreakerCooldown time.Duration `env:"BREAKER_COOLDOWN" envDefault:"1m"`
}

// Load reads configuration from a .env file (if any) and the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("MODEL_DIR must not be empty")
	}
	if cfg.StatsInterval < 0 {
		return nil, fmt.Errorf("invalid STATS_INTERVAL: must not be negative")
	}
	if cfg.BreakerFailures < 0 {
		return nil, fmt.Errorf("invalid BREAKER_FAILURES: must not be negative")
	}
	if cfg.BreakerCooldown < 0 {
		return nil, fmt.Errorf("invalid BREAKER_COOLDOWN: must not be negative")
	}

	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *AppConfig) Addr() string {
	return ":" + c.Port
}
