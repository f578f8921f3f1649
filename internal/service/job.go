package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	"github.com/lumiscan/lumiscan-api/internal/observability/metrics"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo    core.JobRepository // Required: job repository
	Logger  *slog.Logger       // Optional: structured logger
	Metrics statsd.Sink        // Optional: metrics sink (StatsD-compatible)
}

// JobService provides business logic for job lifecycle operations.
//
// This service manages:
// - Creating jobs with a correlation token and immutable expiry.
// - Visible (soft-delete filtered) reads.
// - The phone-capture transition.
// - Admin recovery of swept jobs.
type JobService struct {
	repo    core.JobRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("JobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:    opts.Repo,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Create creates a new job awaiting payment.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job created",
			"job_id", job.ID,
			"amount_cents", job.AmountCents,
			"expires_at", job.ExpiresAt,
		)
	}
	return job, nil
}

// Get retrieves a visible job by id.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// SetPhone stores the verification identifier and moves the job to
// pending_upload.
func (s *JobService) SetPhone(ctx context.Context, id, phone string) (*model.Job, error) {
	start := time.Now()
	job, err := s.repo.SetPhone(ctx, id, phone)
	s.emitTransition(model.JobStatePendingPhone, model.JobStatePendingUpload, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("set phone: %w", err)
	}
	return job, nil
}

// Recover clears the deletion marker on a swept job. Admin path only.
func (s *JobService) Recover(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.Recover(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("recover job: %w", err)
	}
	return job, nil
}

// Stats returns visible job counts per state.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

func (s *JobService) emitTransition(from, to model.JobState, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitTransition(s.metrics, metrics.TransitionMetric{
		From:     string(from),
		To:       string(to),
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
