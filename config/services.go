package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeSweeper runs the expiration sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeSweeper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, sweeper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// JobConfig contains job lifecycle configuration.
type JobConfig struct {
	// TTL is the window from creation to expiry. Expiry is immutable once set.
	TTL time.Duration `env:"JOB_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to job configuration values.
func (j *JobConfig) Sanitize() {
	if j.TTL < 1*time.Minute {
		j.TTL = 1 * time.Minute
	}
}

// GenerationConfig contains generation dispatch configuration.
type GenerationConfig struct {
	// ProviderURL is the generation provider's base URL. The dispatch and
	// analysis endpoints hang off it.
	ProviderURL string `env:"GENERATION_PROVIDER_URL" envDefault:"http://localhost:9090"`

	// RequiredArtifacts is the distinct-success count that advances a job.
	RequiredArtifacts int `env:"GENERATION_REQUIRED_ARTIFACTS" envDefault:"3"`

	// DispatchTimeout bounds one provider HTTP request.
	DispatchTimeout time.Duration `env:"GENERATION_DISPATCH_TIMEOUT" envDefault:"30s"`

	// RetryBaseDelay is the first retry delay; later attempts double it.
	RetryBaseDelay time.Duration `env:"GENERATION_RETRY_BASE_DELAY" envDefault:"5s"`

	// MaxAttempts is the per-request dispatch attempt budget.
	MaxAttempts int `env:"GENERATION_MAX_ATTEMPTS" envDefault:"3"`

	// Deadline is how long a job may sit in processing before the sweeper fails it.
	Deadline time.Duration `env:"GENERATION_DEADLINE" envDefault:"30m"`
}

// Sanitize applies guardrails to generation configuration values.
func (g *GenerationConfig) Sanitize() {
	if g.RequiredArtifacts < 1 {
		g.RequiredArtifacts = 3
	}
	if g.DispatchTimeout <= 0 {
		g.DispatchTimeout = 30 * time.Second
	}
	if g.RetryBaseDelay <= 0 {
		g.RetryBaseDelay = 5 * time.Second
	}
	if g.MaxAttempts < 1 {
		g.MaxAttempts = 1
	}
	if g.Deadline < 1*time.Minute {
		g.Deadline = 1 * time.Minute
	}
}

// VerificationConfig contains verification guard configuration.
type VerificationConfig struct {
	// WindowFailureLimit is the failure count that blocks a (job, source)
	// pair for the rest of the rolling window.
	WindowFailureLimit int `env:"VERIFICATION_WINDOW_FAILURE_LIMIT" envDefault:"3"`

	// Window is the rolling window length.
	Window time.Duration `env:"VERIFICATION_WINDOW" envDefault:"1h"`

	// LifetimeFailureLimit is the per-job failure count that locks the job
	// permanently until manual reset.
	LifetimeFailureLimit int `env:"VERIFICATION_LIFETIME_FAILURE_LIMIT" envDefault:"10"`

	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"15m"`
}

// Sanitize applies guardrails to verification configuration values.
func (v *VerificationConfig) Sanitize() {
	if v.WindowFailureLimit < 1 {
		v.WindowFailureLimit = 3
	}
	if v.Window < 1*time.Minute {
		v.Window = 1 * time.Minute
	}
	if v.LifetimeFailureLimit < v.WindowFailureLimit {
		v.LifetimeFailureLimit = 10
	}
	if v.TokenTTL < 1*time.Minute {
		v.TokenTTL = 1 * time.Minute
	}
}

// MatchConfig contains knowledge matcher configuration.
type MatchConfig struct {
	// TopK is the number of matches a report carries.
	TopK int `env:"MATCH_TOP_K" envDefault:"10"`

	// CandidateMultiplier scales the per-label candidate pool (multiplier x TopK).
	CandidateMultiplier int `env:"MATCH_CANDIDATE_MULTIPLIER" envDefault:"3"`
}

// Sanitize applies guardrails to match configuration values.
func (m *MatchConfig) Sanitize() {
	if m.TopK < 1 {
		m.TopK = 10
	}
	if m.CandidateMultiplier < 1 {
		m.CandidateMultiplier = 3
	}
}

// PaymentConfig contains payment webhook configuration. The JMESPath
// expressions map the processor's payload shape onto the fields the
// intake needs, so switching processors is a config change.
type PaymentConfig struct {
	JobIDPath             string `env:"PAYMENT_JOB_ID_PATH"              envDefault:"metadata.job_id"`
	MerchantReferencePath string `env:"PAYMENT_MERCHANT_REFERENCE_PATH"  envDefault:"reference"`
	AmountPath            string `env:"PAYMENT_AMOUNT_PATH"              envDefault:"amount_cents"`
	StatusPath            string `env:"PAYMENT_STATUS_PATH"              envDefault:"status"`
	// ConfirmedValue is the status payload value that counts as confirmed.
	ConfirmedValue string `env:"PAYMENT_CONFIRMED_VALUE" envDefault:"succeeded"`
}

// SweeperConfig contains expiration sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce a minimum interval to prevent excessive database load
	if s.Interval < 1*time.Minute {
		s.Interval = 1 * time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
