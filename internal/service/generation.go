package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	obserrors "github.com/lumiscan/lumiscan-api/internal/observability/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/metrics"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// GenerationRepos groups the repositories GenerationService depends on.
type GenerationRepos struct {
	Jobs     core.JobRepository
	Attempts core.GenerationRepository
}

// GenerationServiceOptions groups dependencies for GenerationService.
type GenerationServiceOptions struct {
	Repos    GenerationRepos         // Required: job and attempt repositories
	Provider core.GenerationProvider // Required: outbound dispatch port
	Config   config.GenerationConfig // Required: dispatch configuration
	Logger   *slog.Logger            // Optional: structured logger
	Metrics  statsd.Sink             // Optional: metrics sink (StatsD-compatible)
}

// assembler triggers report assembly once all artifacts arrived. Defined
// here so GenerationService does not depend on the report service type.
type assembler interface {
	AssembleForJob(ctx context.Context, jobID string) error
}

// GenerationService coordinates artifact generation.
//
// This service manages:
// - Dispatching the required number of provider requests when a job
//   enters processing.
// - Applying provider callbacks with at-least-once delivery semantics.
// - Advancing the job exactly once when the last required artifact lands.
type GenerationService struct {
	jobs      core.JobRepository
	attempts  core.GenerationRepository
	provider  core.GenerationProvider
	config    config.GenerationConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	assembler assembler
}

// NewGenerationService constructs a new GenerationService.
func NewGenerationService(opts GenerationServiceOptions) (*GenerationService, error) {
	if opts.Repos.Jobs == nil {
		return nil, fmt.Errorf("JobRepository is required")
	}
	if opts.Repos.Attempts == nil {
		return nil, fmt.Errorf("GenerationRepository is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("GenerationProvider is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "generation_service")
	}

	return &GenerationService{
		jobs:     opts.Repos.Jobs,
		attempts: opts.Repos.Attempts,
		provider: opts.Provider,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// SetAssembler wires the report assembly trigger. Called once at startup;
// a nil assembler leaves advanced jobs for the next assembly sweep.
func (s *GenerationService) SetAssembler(a assembler) {
	s.assembler = a
}

// StartGeneration records the uploaded source artifact, moves the job to
// processing, and dispatches the required provider requests concurrently.
// Any request that cannot be dispatched after retries fails the job.
func (s *GenerationService) StartGeneration(ctx context.Context, jobID, artifactKey string) (*model.Job, error) {
	job, err := s.jobs.RecordUpload(ctx, jobID, artifactKey)
	if err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}

	if err := s.dispatchAll(ctx, job); err != nil {
		cause := err.Error()
		if _, trErr := s.jobs.Transition(ctx, core.TransitionParams{
			JobID:        job.ID,
			From:         model.JobStateProcessing,
			To:           model.JobStateFailed,
			FailureCause: &cause,
		}); trErr != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to fail job after dispatch error",
					"job_id", job.ID, "error", trErr)
			}
		}
		return nil, fmt.Errorf("dispatch generation: %w", err)
	}
	return job, nil
}

// dispatchAll issues one provider request per required artifact, each with
// a distinct seed, and records a pending attempt per accepted request.
func (s *GenerationService) dispatchAll(ctx context.Context, job *model.Job) error {
	if job.SourceArtifact == nil {
		return apperrors.Validation("job has no source artifact")
	}

	baseSeed := randomSeed()
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.config.RequiredArtifacts; i++ {
		seed := baseSeed + int64(i)
		g.Go(func() error {
			externalRequestID, err := s.provider.Dispatch(gctx, core.DispatchRequest{
				SourceArtifact: *job.SourceArtifact,
				Seed:           seed,
				CallbackRef:    job.CorrelationToken,
			})
			if err != nil {
				return fmt.Errorf("dispatch seed %d: %w", seed, err)
			}

			if _, err := s.attempts.CreatePending(gctx, core.CreateAttemptParams{
				JobID:             job.ID,
				ExternalRequestID: externalRequestID,
				Seed:              seed,
			}); err != nil {
				return fmt.Errorf("record pending attempt: %w", err)
			}

			if s.logger != nil {
				s.logger.DebugContext(gctx, "generation request dispatched",
					"job_id", job.ID,
					"external_request_id", externalRequestID,
					"seed", seed,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.emitDispatch(metrics.ResultError, err)
		return err
	}
	s.emitDispatch(metrics.ResultSuccess, nil)
	return nil
}

// HandleCallback applies one provider callback. Deliveries are
// at-least-once: unknown correlation tokens are logged and dropped, and
// redelivered request ids acknowledge without side effects.
func (s *GenerationService) HandleCallback(ctx context.Context, cb *model.GenerationCallback) error {
	if cb == nil {
		return apperrors.Validation("callback is required")
	}
	if err := cb.Validate(); err != nil {
		return fmt.Errorf("validate callback: %w", err)
	}

	job, err := s.jobs.GetByCorrelationToken(ctx, cb.EchoedInput.CorrelationToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Provider callbacks can outlive their job. Ack and move on.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "callback for unknown correlation token dropped",
					"external_request_id", cb.ExternalRequestID)
			}
			return nil
		}
		return fmt.Errorf("resolve correlation token: %w", err)
	}

	status := model.AttemptStatusFailed
	if cb.Status == model.CallbackStatusSucceeded {
		status = model.AttemptStatusSucceeded
	}

	start := time.Now()
	resolution, err := s.attempts.ResolveCallback(ctx, core.ResolveCallbackParams{
		JobID:             job.ID,
		ExternalRequestID: cb.ExternalRequestID,
		Status:            status,
		ArtifactKey:       cb.ArtifactKey,
		FailureReason:     cb.FailureReason,
		RequiredSuccesses: s.config.RequiredArtifacts,
	})
	if err != nil {
		return fmt.Errorf("resolve callback: %w", err)
	}

	s.emitCallback(resolution)

	if resolution.Advanced {
		s.emitTransition(model.JobStateProcessing, model.JobStateAnalyzing, time.Since(start))
		if s.logger != nil {
			s.logger.InfoContext(ctx, "all artifacts arrived",
				"job_id", job.ID,
				"succeeded", resolution.SucceededCount,
			)
		}
		if s.assembler != nil {
			if err := s.assembler.AssembleForJob(ctx, job.ID); err != nil {
				// The job stays in analyzing; the sweeper fails it if
				// assembly never lands.
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "report assembly failed",
						"job_id", job.ID, "error", err)
				}
			}
		}
	}

	if resolution.Exhausted && s.logger != nil {
		s.logger.WarnContext(ctx, "generation exhausted, job failed",
			"job_id", job.ID,
			"succeeded", resolution.SucceededCount,
		)
	}
	return nil
}

// ListAttempts returns a job's generation attempts, oldest first.
func (s *GenerationService) ListAttempts(ctx context.Context, jobID string) ([]*model.GenerationAttempt, error) {
	attempts, err := s.attempts.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

func (s *GenerationService) emitDispatch(result string, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	if err != nil {
		tags["error_class"] = obserrors.Classify(err)
	}
	s.metrics.Count("generation.dispatch", 1, tags)
}

func (s *GenerationService) emitCallback(res *core.CallbackResolution) {
	if s.metrics == nil {
		return
	}
	outcome := "recorded"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.Advanced:
		outcome = "advanced"
	case res.Exhausted:
		outcome = "exhausted"
	}
	s.metrics.Count("generation.callback", 1, map[string]string{"outcome": outcome})
}

func (s *GenerationService) emitTransition(from, to model.JobState, elapsed time.Duration) {
	metrics.EmitTransition(s.metrics, metrics.TransitionMetric{
		From:     string(from),
		To:       string(to),
		Result:   metrics.ResultSuccess,
		Duration: elapsed,
	})
}

func randomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	// Mask the sign bit so seeds stay positive.
	return int64(binary.BigEndian.Uint64(buf[:]) >> 1)
}
