package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://api.example.com").
	// Used for building the callback reference handed to the generation provider.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// ReadTimeout bounds how long reading a request may take.
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout bounds how long writing a response may take.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`

	// ShutdownGrace is how long in-flight requests get on shutdown.
	ShutdownGrace time.Duration `env:"HTTP_SHUTDOWN_GRACE" envDefault:"10s"`

	// AdminKey gates the operator endpoints. Empty disables them.
	AdminKey string `env:"ADMIN_KEY"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 15 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.ShutdownGrace <= 0 {
		h.ShutdownGrace = 10 * time.Second
	}
}
