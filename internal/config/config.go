package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	TokenSecret string `env:"TOKEN_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	MaxClientsPerChannel int `env:"MAX_CLIENTS_PER_CHANNEL" default:"200"`

	PingInterval    time.Duration `env:"WS_PING_INTERVAL" default:"25s"`
	IdleTimeout     time.Duration `env:"WS_IDLE_TIMEOUT" default:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
		"TOKEN_SECRET": cfg.TokenSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.TokenSecret) < 16 {
		return errors.New("TOKEN_SECRET must be at least 16 characters")
	}

	if cfg.IdleTimeout <= cfg.PingInterval {
		return fmt.Errorf("WS_IDLE_TIMEOUT (%v) must be greater than WS_PING_INTERVAL (%v)", cfg.IdleTimeout, cfg.PingInterval)
	}

	return nil
}
