package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "lumiscan"

// ObservabilityConfig groups configuration that controls metrics and
// outbound notifications.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls the outbound webhook notifier
// used for report-ready messages.
type ObservabilityNotificationsConfig struct {
	Enabled    bool          `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"     envDefault:"false"`
	WebhookURL string        `env:"OBSERVABILITY_NOTIFICATIONS_WEBHOOK_URL"`
	Timeout    time.Duration `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Source     string        `env:"OBSERVABILITY_NOTIFICATIONS_SOURCE"      envDefault:"lumiscan"`
}

// IsEnabled returns true when the webhook notifier is active after
// sanitisation.
func (c *ObservabilityNotificationsConfig) IsEnabled() bool {
	return c.Enabled && c.WebhookURL != ""
}

// Sanitize normalises notification configuration values.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Enabled && c.WebhookURL == "" {
		c.Enabled = false
	}
}
