// Package bootstrap wires configuration, infrastructure, and services
// together for the application entrypoint.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lumiscan/lumiscan-api/config"
)

// InitLogger initializes the structured logger.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and
// required secrets are present.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if cfg.AccessTokenSecret == "" && !cfg.IsDev {
		return errors.New("ACCESS_TOKEN_SECRET is required outside development")
	}

	return nil
}

// GetEnabledServices returns a list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for svc := range services {
		switch svc {
		case config.ServiceModeHTTP:
			enabledServices = append(enabledServices, "http")
		case config.ServiceModeSweeper:
			enabledServices = append(enabledServices, "sweeper")
		}
	}

	return enabledServices
}

// devAccessTokenSecret is used when no secret is configured in dev mode so
// local runs work without setup. Tokens signed with it are worthless.
const devAccessTokenSecret = "dev-only-insecure-secret"

// AccessTokenSecret returns the configured signing secret, substituting a
// fixed development value when allowed.
func AccessTokenSecret(cfg *config.AppConfig) string {
	if cfg.AccessTokenSecret != "" {
		return cfg.AccessTokenSecret
	}
	return devAccessTokenSecret
}
