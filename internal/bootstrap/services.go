package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/adapters/notify/webhook"
	"github.com/lumiscan/lumiscan-api/internal/adapters/provider"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/data"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
	"github.com/lumiscan/lumiscan-api/internal/service"
)

// shutdownWaitTimeout bounds how long graceful shutdown waits for each
// service.
const shutdownWaitTimeout = 30 * time.Second

// ServiceContainer holds all constructed application services.
type ServiceContainer struct {
	Jobs         *service.JobService
	Generation   *service.GenerationService
	Verification *service.VerificationService
	Match        *service.MatchService
	Reports      *service.ReportService
	Payments     *service.PaymentService
	Sweeper      *service.SweeperService
}

// ObservabilityContainer holds observability collaborators shared by the
// services.
type ObservabilityContainer struct {
	MetricsSink *statsd.Client
	Notifier    core.NotificationDispatcher
}

// ServiceDeps contains dependencies for building services.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups the data-layer stores behind the service ports.
type serviceRepositories struct {
	jobs         *data.JobRepo
	attempts     *data.GenerationRepo
	verification *data.VerificationRepo
	window       *data.RedisRateWindow
	knowledge    *data.KnowledgeRepo
	reports      *data.ReportRepo
	payments     *data.PaymentRepo
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "lumiscan",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	var notifier core.NotificationDispatcher
	if cfg.Notifications.IsEnabled() {
		client, err := webhook.NewClient(webhook.Config{
			URL:        cfg.Notifications.WebhookURL,
			Source:     cfg.Notifications.Source,
			Timeout:    cfg.Notifications.Timeout,
			RetryLimit: cfg.Notifications.RetryLimit,
		})
		if err != nil {
			obsLogger.Error("failed to initialise webhook notifier", "error", err)
		} else {
			notifier = client
		}
	}

	return ObservabilityContainer{
		MetricsSink: metricsSink,
		Notifier:    notifier,
	}
}

// buildRepositories builds repositories backing service ports; no business
// rules here.
func buildRepositories(deps *ServiceDeps) *serviceRepositories {
	cfg := data.RepoConfig{
		DefaultTTL: deps.Config.Job.TTL,
		Logger:     deps.Logger,
	}

	return &serviceRepositories{
		jobs:         data.NewJobRepo(deps.DB, cfg),
		attempts:     data.NewGenerationRepo(deps.DB, cfg),
		verification: data.NewVerificationRepo(deps.DB, cfg),
		window:       data.NewRedisRateWindow(deps.RedisClient),
		knowledge:    data.NewKnowledgeRepo(deps.DB),
		reports:      data.NewReportRepo(deps.DB, cfg),
		payments:     data.NewPaymentRepo(deps.DB, cfg),
	}
}

// NewServices constructs the full service graph.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps and config are required")
	}

	repos := buildRepositories(deps)
	observability := buildObservability(deps.Logger, deps.Config.Observability)
	sink := metricsSinkOrNil(observability.MetricsSink)

	providerClient, err := provider.NewClient(provider.Config{
		BaseURL:        deps.Config.Generation.ProviderURL,
		Timeout:        deps.Config.Generation.DispatchTimeout,
		MaxAttempts:    deps.Config.Generation.MaxAttempts,
		RetryBaseDelay: deps.Config.Generation.RetryBaseDelay,
		Logger:         deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create provider client: %w", err)
	}

	signer, err := service.NewTokenSigner(service.TokenSignerOptions{
		Secret: AccessTokenSecret(deps.Config),
		TTL:    deps.Config.Verification.TokenTTL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create token signer: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:    repos.jobs,
		Logger:  deps.Logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	generation, err := service.NewGenerationService(service.GenerationServiceOptions{
		Repos:    service.GenerationRepos{Jobs: repos.jobs, Attempts: repos.attempts},
		Provider: providerClient,
		Config:   deps.Config.Generation,
		Logger:   deps.Logger,
		Metrics:  sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create generation service: %w", err)
	}

	verification, err := service.NewVerificationService(service.VerificationServiceOptions{
		Repos: service.VerificationRepos{
			Jobs:     repos.jobs,
			Attempts: repos.verification,
			Window:   repos.window,
		},
		Signer:  signer,
		Config:  deps.Config.Verification,
		Logger:  deps.Logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create verification service: %w", err)
	}

	match, err := service.NewMatchService(service.MatchServiceOptions{
		Repo:    repos.knowledge,
		Scorer:  service.NewLexicalScorer(),
		Config:  deps.Config.Match,
		Logger:  deps.Logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create match service: %w", err)
	}

	reports, err := service.NewReportService(service.ReportServiceOptions{
		Repos: service.ReportRepos{
			Jobs:     repos.jobs,
			Attempts: repos.attempts,
			Reports:  repos.reports,
		},
		Matcher:  match,
		Analyzer: providerClient,
		Notifier: observability.Notifier,
		Logger:   deps.Logger,
		Metrics:  sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create report service: %w", err)
	}

	// Callback-driven assembly: the generation service triggers report
	// assembly when the last artifact arrives.
	generation.SetAssembler(reports)

	payments, err := service.NewPaymentService(service.PaymentServiceOptions{
		Repo:    repos.payments,
		Config:  deps.Config.Payment,
		Logger:  deps.Logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create payment service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:     repos.jobs,
		Config:   deps.Config.Sweeper,
		Deadline: deps.Config.Generation.Deadline,
		Logger:   deps.Logger,
		Metrics:  sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sweeper service: %w", err)
	}

	return ServiceContainer{
		Jobs:         jobs,
		Generation:   generation,
		Verification: verification,
		Match:        match,
		Reports:      reports,
		Payments:     payments,
		Sweeper:      sweeper,
	}, nil
}

// metricsSinkOrNil converts a possibly-nil concrete client to the Sink
// interface without producing a typed-nil interface value.
//
//nolint:ireturn // intentional interface return for DI.
func metricsSinkOrNil(client *statsd.Client) statsd.Sink {
	if client == nil {
		return nil
	}
	return client
}

// ServiceOrchestrationConfig contains dependencies for running the enabled
// services until shutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. This function blocks until a shutdown signal is received or a
// service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	var httpServer *http.Server
	if cfg.Config.IsHTTPServerEnabled() {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
	}

	var sweeperDone chan struct{}
	if cfg.Config.IsSweeperEnabled() {
		sweeperDone = make(chan struct{})
		go func() {
			defer close(sweeperDone)
			logger.Info("starting sweeper")
			if err := cfg.Services.Sweeper.Run(serviceCtx); err != nil {
				errCh <- fmt.Errorf("sweeper: %w", err)
			}
		}()
	}

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  httpServer,
		httpGrace:   cfg.Config.HTTP.ShutdownGrace,
		sweeperDone: sweeperDone,
		logger:      logger,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	httpGrace   time.Duration
	sweeperDone <-chan struct{}
	logger      *slog.Logger
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		grace := cfg.httpGrace
		if grace <= 0 {
			grace = shutdownWaitTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := cfg.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		cfg.logger.Info("http server stopped")
	}

	waitForService(cfg.sweeperDone, "sweeper", cfg.logger)
	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
