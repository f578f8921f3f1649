package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, job, and worker configuration
//   - observability.go: Metrics and notification configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed guards).
	// Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// AccessTokenSecret signs report access tokens. Required outside dev.
	AccessTokenSecret string `env:"ACCESS_TOKEN_SECRET"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	// Job lifecycle configuration
	Job JobConfig

	// Generation dispatch configuration
	Generation GenerationConfig

	// Verification guard configuration
	Verification VerificationConfig

	// Knowledge matcher configuration
	Match MatchConfig

	// Payment webhook configuration
	Payment PaymentConfig

	// Sweeper configuration
	Sweeper SweeperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Job.Sanitize()
	c.Generation.Sanitize()
	c.Verification.Sanitize()
	c.Match.Sanitize()
	c.Sweeper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsSweeperEnabled returns true if the expiration sweeper service is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}
