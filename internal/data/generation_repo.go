package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/data/pgxutil"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// GenerationRepo persists generation attempts and resolves provider
// callbacks. Callback resolution runs inside one transaction holding the
// job row lock, which is what makes the advancement decision exactly-once
// under concurrent deliveries.
type GenerationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewGenerationRepo creates a new GenerationRepo instance.
func NewGenerationRepo(db *sql.DB, cfg RepoConfig) *GenerationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &GenerationRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const attemptColumns = `
  id,
  job_id,
  external_request_id,
  seed,
  status,
  artifact_key,
  failure_reason,
  arrived_at,
  created_at,
  updated_at
`

type attemptRowScanner interface {
	Scan(dest ...any) error
}

func scanAttemptFromRow(scanner attemptRowScanner) (*model.GenerationAttempt, error) {
	attempt := &model.GenerationAttempt{}
	var artifactKey, failureReason sql.NullString
	var arrivedAt sql.NullTime
	err := scanner.Scan(
		&attempt.ID,
		&attempt.JobID,
		&attempt.ExternalRequestID,
		&attempt.Seed,
		&attempt.Status,
		&artifactKey,
		&failureReason,
		&arrivedAt,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	attempt.ArtifactKey = cloneNullableString(artifactKey)
	attempt.FailureReason = cloneNullableString(failureReason)
	attempt.ArrivedAt = cloneNullableTime(arrivedAt)
	return attempt, nil
}

// CreatePending inserts a pending attempt for a freshly dispatched request.
func (r *GenerationRepo) CreatePending(ctx context.Context, params core.CreateAttemptParams) (*model.GenerationAttempt, error) {
	if params.JobID == "" || params.ExternalRequestID == "" {
		return nil, apperrors.Validation("job id and external request id are required")
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO generation_attempts(id, job_id, external_request_id, seed, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $5)
		RETURNING `+attemptColumns,
		uuid.NewString(), params.JobID, params.ExternalRequestID, params.Seed, currentTime,
	)
	attempt, err := scanAttemptFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert generation attempt: %w", err))
	}
	return attempt, nil
}

// ListByJob returns every attempt for a job, oldest first.
func (r *GenerationRepo) ListByJob(ctx context.Context, jobID string) ([]*model.GenerationAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM generation_attempts
		WHERE job_id = $1
		ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list generation attempts: %w", err))
	}
	defer rows.Close()

	var attempts []*model.GenerationAttempt
	for rows.Next() {
		attempt, scanErr := scanAttemptFromRow(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan generation attempt: %w", scanErr))
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list generation attempts: %w", err))
	}
	return attempts, nil
}

// ResolveCallback applies one provider callback inside a single
// transaction. The job row lock serializes concurrent deliveries for the
// same job, so exactly one resolution observes the success count reach
// the required threshold and advances the job. A callback whose attempt
// was already resolved is reported as a duplicate and writes nothing.
func (r *GenerationRepo) ResolveCallback(ctx context.Context, params core.ResolveCallbackParams) (*core.CallbackResolution, error) {
	if params.RequiredSuccesses <= 0 {
		params.RequiredSuccesses = model.RequiredArtifacts
	}

	resolution := &core.CallbackResolution{}
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		jobState, err := r.lockJob(ctx, tx, params.JobID)
		if err != nil {
			return err
		}

		attemptID, attemptStatus, err := r.findAttempt(ctx, tx, params.JobID, params.ExternalRequestID)
		if err != nil {
			return err
		}

		if attemptStatus != model.AttemptStatusPending {
			// Redelivery of an already-applied callback.
			resolution.Duplicate = true
			resolution.SucceededCount, err = r.countSucceeded(ctx, tx, params.JobID)
			return err
		}

		currentTime := r.timeProvider.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE generation_attempts
			SET status = $2, artifact_key = $3, failure_reason = $4, arrived_at = $5, updated_at = $5
			WHERE id = $1`,
			attemptID, params.Status, params.ArtifactKey, params.FailureReason, currentTime,
		)
		if err != nil {
			return fmt.Errorf("resolve generation attempt: %w", err)
		}

		resolution.SucceededCount, err = r.countSucceeded(ctx, tx, params.JobID)
		if err != nil {
			return err
		}

		switch params.Status {
		case model.AttemptStatusSucceeded:
			if resolution.SucceededCount >= params.RequiredSuccesses && jobState == model.JobStateProcessing {
				if err := r.transitionLocked(ctx, tx, params.JobID, model.JobStateProcessing, model.JobStateAnalyzing, nil, currentTime); err != nil {
					return err
				}
				resolution.Advanced = true
			}
		case model.AttemptStatusFailed:
			reachable, err := r.countReachable(ctx, tx, params.JobID)
			if err != nil {
				return err
			}
			if reachable < params.RequiredSuccesses && jobState == model.JobStateProcessing {
				cause := "generation attempts exhausted"
				if params.FailureReason != nil && *params.FailureReason != "" {
					cause = *params.FailureReason
				}
				if err := r.transitionLocked(ctx, tx, params.JobID, model.JobStateProcessing, model.JobStateFailed, &cause, currentTime); err != nil {
					return err
				}
				resolution.Exhausted = true
			}
		default:
			return apperrors.Validationf("unexpected attempt status %q", params.Status)
		}
		return nil
	}})
	if err != nil {
		if apperrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, apperrors.MapDBError(fmt.Errorf("resolve callback: %w", err))
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "generation callback resolved",
			"job_id", params.JobID,
			"external_request_id", params.ExternalRequestID,
			"status", params.Status,
			"duplicate", resolution.Duplicate,
			"advanced", resolution.Advanced,
			"exhausted", resolution.Exhausted,
			"succeeded", resolution.SucceededCount,
		)
	}
	return resolution, nil
}

func (r *GenerationRepo) lockJob(ctx context.Context, tx pgx.Tx, jobID string) (model.JobState, error) {
	var state model.JobState
	err := tx.QueryRow(ctx, `
		SELECT state FROM jobs
		WHERE id = $1`+visibleJobPredicate+`
		FOR UPDATE`,
		jobID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound("job not found")
	}
	if err != nil {
		return "", fmt.Errorf("lock job row: %w", err)
	}
	return state, nil
}

func (r *GenerationRepo) findAttempt(ctx context.Context, tx pgx.Tx, jobID, externalRequestID string) (string, model.AttemptStatus, error) {
	var id string
	var status model.AttemptStatus
	err := tx.QueryRow(ctx, `
		SELECT id, status FROM generation_attempts
		WHERE job_id = $1 AND external_request_id = $2`,
		jobID, externalRequestID,
	).Scan(&id, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", apperrors.NotFoundf("unknown generation request %q", externalRequestID)
	}
	if err != nil {
		return "", "", fmt.Errorf("find generation attempt: %w", err)
	}
	return id, status, nil
}

func (r *GenerationRepo) countSucceeded(ctx context.Context, tx pgx.Tx, jobID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(DISTINCT external_request_id)
		FROM generation_attempts
		WHERE job_id = $1 AND status = 'succeeded'`,
		jobID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count succeeded attempts: %w", err)
	}
	return count, nil
}

// countReachable returns how many successes the job can still reach:
// attempts already succeeded plus attempts still pending.
func (r *GenerationRepo) countReachable(ctx context.Context, tx pgx.Tx, jobID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM generation_attempts
		WHERE job_id = $1 AND status IN ('succeeded', 'pending')`,
		jobID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reachable attempts: %w", err)
	}
	return count, nil
}

func (r *GenerationRepo) transitionLocked(ctx context.Context, tx pgx.Tx, jobID string, from, to model.JobState, failureCause *string, currentTime time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET state = $3, failure_cause = COALESCE($4, failure_cause), updated_at = $5
		WHERE id = $1 AND state = $2`+visibleJobPredicate,
		jobID, from, to, failureCause, currentTime,
	)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() != 1 {
		// The row is locked for the whole transaction, so a miss here
		// means the state read at lock time no longer holds.
		return apperrors.InvalidTransitionf("transition %s -> %s is not allowed", from, to)
	}
	return nil
}
