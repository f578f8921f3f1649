package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// VerificationRepo persists identity verification attempts. Attempts are
// append-only; the lifetime failure count drives the permanent lockout.
type VerificationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewVerificationRepo creates a new VerificationRepo instance.
func NewVerificationRepo(db *sql.DB, cfg RepoConfig) *VerificationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &VerificationRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

// Append records one verification attempt for a job.
func (r *VerificationRepo) Append(ctx context.Context, params core.AppendAttemptParams) (*model.VerificationAttempt, error) {
	if params.JobID == "" {
		return nil, apperrors.Validation("job id is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	attempt := &model.VerificationAttempt{}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO verification_attempts(id, job_id, source_addr, success, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, job_id, source_addr, success, created_at`,
		uuid.NewString(), params.JobID, params.SourceAddr, params.Success, currentTime,
	).Scan(&attempt.ID, &attempt.JobID, &attempt.SourceAddr, &attempt.Success, &attempt.CreatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert verification attempt: %w", err))
	}
	return attempt, nil
}

// CountFailures returns the lifetime failed attempt count for a job across
// every source address.
func (r *VerificationRepo) CountFailures(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM verification_attempts
		WHERE job_id = $1 AND success = false`,
		jobID,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("count verification failures: %w", err))
	}
	return count, nil
}

// ListByJob returns a job's verification attempts, oldest first.
func (r *VerificationRepo) ListByJob(ctx context.Context, jobID string) ([]*model.VerificationAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, job_id, source_addr, success, created_at
		FROM verification_attempts
		WHERE job_id = $1
		ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list verification attempts: %w", err))
	}
	defer rows.Close()

	var attempts []*model.VerificationAttempt
	for rows.Next() {
		attempt := &model.VerificationAttempt{}
		if scanErr := rows.Scan(&attempt.ID, &attempt.JobID, &attempt.SourceAddr, &attempt.Success, &attempt.CreatedAt); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan verification attempt: %w", scanErr))
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list verification attempts: %w", err))
	}
	return attempts, nil
}
