package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	obserrors "github.com/lumiscan/lumiscan-api/internal/observability/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/metrics"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo     core.SweepRepository // Required: sweep repository
	Config   config.SweeperConfig // Required: sweeper configuration
	Deadline time.Duration        // Required: generation deadline for overdue jobs
	Logger   *slog.Logger         // Optional: structured logger
	Metrics  statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// SweeperService expires jobs past their deadline.
//
// This service manages:
// - Soft-deleting jobs whose expiry instant passed.
// - Failing jobs stuck in processing or analyzing past the generation
//   deadline.
// Both steps are advisory-locked batch updates, so a rerun over the same
// backlog is a no-op.
type SweeperService struct {
	repo     core.SweepRepository
	config   config.SweeperConfig
	deadline time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SweepRepository is required")
	}
	if opts.Deadline <= 0 {
		return nil, errors.New("generation deadline must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"batch_size", opts.Config.BatchSize,
			"deadline", opts.Deadline,
		)
	}

	return &SweeperService{
		repo:     opts.Repo,
		config:   opts.Config,
		deadline: opts.Deadline,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter spreads out instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Keep running despite errors.
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Skip jitter rather than failing startup.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Sweep performs one full pass: expire overdue jobs, then fail jobs stuck
// past the generation deadline. Each step drains its backlog in batches.
func (s *SweeperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var errs []error

	expired, expireErr := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.MarkExpired(ctx, s.config.BatchSize)
	})
	if expireErr != nil {
		errs = append(errs, fmt.Errorf("mark expired: %w", expireErr))
	}
	s.emitStep("mark_expired", expired, expireErr)

	failed, failErr := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.FailOverdueProcessing(ctx, s.deadline, s.config.BatchSize)
	})
	if failErr != nil {
		errs = append(errs, fmt.Errorf("fail overdue processing: %w", failErr))
	}
	s.emitStep("fail_overdue", failed, failErr)

	s.emitSweep(expired+failed, time.Since(start), errors.Join(errs...))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}

	if (expired > 0 || failed > 0) && s.logger != nil {
		s.logger.InfoContext(ctx, "sweep completed",
			"expired", expired,
			"failed_overdue", failed,
		)
	}
	return nil
}

// drain repeats one batched step until it reports an empty batch.
func (s *SweeperService) drain(ctx context.Context, step func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := step(ctx)
		total += count
		if err != nil {
			return total, err
		}
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *SweeperService) emitStep(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil && !isContextCancellation(err) {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil && result == metrics.ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("sweeper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *SweeperService) emitSweep(total int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil && !isContextCancellation(err) {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	s.metrics.Count("sweeper.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("sweeper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
