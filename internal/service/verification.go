package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/data"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// VerificationRepos groups the repositories VerificationService depends on.
type VerificationRepos struct {
	Jobs     core.JobRepository
	Attempts core.VerificationRepository
	Window   core.RateWindow
}

// VerificationServiceOptions groups dependencies for VerificationService.
type VerificationServiceOptions struct {
	Repos        VerificationRepos         // Required: job, attempt, and window stores
	Signer       *TokenSigner              // Required: access token issuer
	Config       config.VerificationConfig // Required: thresholds and window length
	Logger       *slog.Logger              // Optional: structured logger
	Metrics      statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	TimeProvider data.TimeProvider         // Optional: injectable clock
}

// VerificationService guards access to assembled reports behind an
// identity check.
//
// This service manages:
// - Comparing a claimed identifier against the job's stored one.
// - A rolling per-(job, source) failure window and a lifetime per-job cap.
// - Issuing access tokens on success.
//
// Expiry always wins: an expired job reports expired even when the caller
// is also rate limited.
type VerificationService struct {
	jobs         core.JobRepository
	attempts     core.VerificationRepository
	window       core.RateWindow
	signer       *TokenSigner
	config       config.VerificationConfig
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider
}

// NewVerificationService constructs a new VerificationService.
func NewVerificationService(opts VerificationServiceOptions) (*VerificationService, error) {
	if opts.Repos.Jobs == nil {
		return nil, fmt.Errorf("JobRepository is required")
	}
	if opts.Repos.Attempts == nil {
		return nil, fmt.Errorf("VerificationRepository is required")
	}
	if opts.Repos.Window == nil {
		return nil, fmt.Errorf("RateWindow is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("TokenSigner is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "verification_service")
	}

	return &VerificationService{
		jobs:         opts.Repos.Jobs,
		attempts:     opts.Repos.Attempts,
		window:       opts.Repos.Window,
		signer:       opts.Signer,
		config:       opts.Config,
		logger:       logger,
		metrics:      opts.Metrics,
		timeProvider: tp,
	}, nil
}

// Verify checks a claimed identifier against the job's stored one.
func (s *VerificationService) Verify(ctx context.Context, req *model.VerifyRequest) (*model.VerifyResult, error) {
	if req == nil {
		return nil, apperrors.Validation("verify request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate verify request: %w", err)
	}

	job, err := s.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	// Expiry is checked before any rate-limit state.
	now := s.timeProvider.Now().UTC()
	if job.State == model.JobStateExpired || job.Expired(now) {
		return nil, apperrors.Expired("job has expired")
	}

	if job.Phone == nil {
		return nil, apperrors.Conflict("job has no identifier on record")
	}

	if err := s.checkLimits(ctx, req.JobID, req.SourceAddr); err != nil {
		return nil, err
	}

	if model.NormalizePhone(req.ClaimedPhone) != model.NormalizePhone(*job.Phone) {
		return s.recordFailure(ctx, req)
	}
	return s.recordSuccess(ctx, job, req)
}

// checkLimits rejects the attempt before comparison when either limit is
// already exhausted.
func (s *VerificationService) checkLimits(ctx context.Context, jobID, sourceAddr string) error {
	lifetime, err := s.attempts.CountFailures(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count lifetime failures: %w", err)
	}
	if lifetime >= s.config.LifetimeFailureLimit {
		s.emitVerify("locked_out")
		return apperrors.RateLimited("verification permanently locked for this job")
	}

	windowCount, err := s.window.Count(ctx, jobID, sourceAddr)
	if err != nil {
		return fmt.Errorf("read rate window: %w", err)
	}
	if windowCount >= s.config.WindowFailureLimit {
		s.emitVerify("rate_limited")
		return apperrors.RateLimited("too many failed attempts, retry after the window resets")
	}
	return nil
}

// recordFailure persists the attempt before touching the window so the
// lifetime count never undercounts, then reports how many window attempts
// remain. Crossing a threshold on this very attempt surfaces as a
// rate-limit error.
func (s *VerificationService) recordFailure(ctx context.Context, req *model.VerifyRequest) (*model.VerifyResult, error) {
	if _, err := s.attempts.Append(ctx, core.AppendAttemptParams{
		JobID:      req.JobID,
		SourceAddr: req.SourceAddr,
		Success:    false,
	}); err != nil {
		return nil, fmt.Errorf("append failed attempt: %w", err)
	}

	lifetime, err := s.attempts.CountFailures(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("count lifetime failures: %w", err)
	}
	if lifetime >= s.config.LifetimeFailureLimit {
		s.emitVerify("locked_out")
		return nil, apperrors.RateLimited("verification permanently locked for this job")
	}

	newCount, err := s.window.Incr(ctx, req.JobID, req.SourceAddr, s.config.Window)
	if err != nil {
		return nil, fmt.Errorf("bump rate window: %w", err)
	}

	s.emitVerify("failure")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification failed",
			"job_id", req.JobID,
			"window_count", newCount,
		)
	}

	if newCount >= s.config.WindowFailureLimit {
		return nil, apperrors.RateLimited("too many failed attempts, retry after the window resets")
	}

	remaining := s.config.WindowFailureLimit - newCount
	return &model.VerifyResult{Verified: false, RemainingAttempts: &remaining}, nil
}

func (s *VerificationService) recordSuccess(ctx context.Context, job *model.Job, req *model.VerifyRequest) (*model.VerifyResult, error) {
	if _, err := s.attempts.Append(ctx, core.AppendAttemptParams{
		JobID:      req.JobID,
		SourceAddr: req.SourceAddr,
		Success:    true,
	}); err != nil {
		return nil, fmt.Errorf("append success attempt: %w", err)
	}

	// A successful check clears the window for this source.
	if err := s.window.Reset(ctx, req.JobID, req.SourceAddr); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "rate window reset failed", "job_id", req.JobID, "error", err)
	}

	token := s.signer.Issue(job.ID, model.NormalizePhone(*job.Phone))
	s.emitVerify("success")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification succeeded", "job_id", job.ID)
	}
	return &model.VerifyResult{Verified: true, AccessToken: token}, nil
}

// ValidateAccessToken checks a report access token and confirms it still
// points at a visible job.
func (s *VerificationService) ValidateAccessToken(ctx context.Context, jobID, token string) (*TokenClaims, error) {
	claims, err := s.signer.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.JobID != jobID {
		return nil, apperrors.Validation("access token does not match job")
	}
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return claims, nil
}

// ResetLockout clears the rolling window for a (job, source) pair. The
// lifetime failure log is append-only and stays untouched.
func (s *VerificationService) ResetLockout(ctx context.Context, jobID, sourceAddr string) error {
	if err := s.window.Reset(ctx, jobID, sourceAddr); err != nil {
		return fmt.Errorf("reset rate window: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification lockout reset", "job_id", jobID)
	}
	return nil
}

func (s *VerificationService) emitVerify(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("verification.attempt", 1, map[string]string{"outcome": outcome})
}
