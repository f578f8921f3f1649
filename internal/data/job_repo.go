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

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// DefaultTTL is the job expiry window applied when a create request
	// carries no explicit TTL.
	DefaultTTL   time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

const defaultJobTTL = 24 * time.Hour

// JobRepo provides database operations for job lifecycle management.
// Every state transition is a single-row atomic update guarded by the
// expected current state, so concurrent writers for the same job cannot
// both apply an edge.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultJobTTL
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  state,
  correlation_token,
  phone,
  source_artifact,
  amount_cents,
  failure_cause,
  created_at,
  expires_at,
  deleted_at,
  updated_at
`

// visibleJobPredicate is appended to every read that must not surface
// soft-deleted jobs. Keeping it in one place is what guarantees no read
// path bypasses the deletion marker.
const visibleJobPredicate = ` AND deleted_at IS NULL`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	phone, sourceArtifact, failureCause sql.NullString
	deletedAt                           sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.State,
		&job.CorrelationToken,
		&d.phone,
		&d.sourceArtifact,
		&job.AmountCents,
		&d.failureCause,
		&job.CreatedAt,
		&job.ExpiresAt,
		&d.deletedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Phone = cloneNullableString(d.phone)
	job.SourceArtifact = cloneNullableString(d.sourceArtifact)
	job.FailureCause = cloneNullableString(d.failureCause)
	job.DeletedAt = cloneNullableTime(d.deletedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Create creates a new job in pending_payment with a fresh correlation token
// and an immutable expiry.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}

	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs(id, state, correlation_token, amount_cents, created_at, expires_at, updated_at)
		VALUES ($1, 'pending_payment', $2, $3, $4, $5, $4)
		RETURNING `+jobColumns,
		uuid.NewString(), uuid.NewString(), req.AmountCents, currentTime, currentTime.Add(ttl),
	)
	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	return job, nil
}

// GetByID retrieves a visible (non-deleted) job by its id.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`+visibleJobPredicate, id)
}

// GetByCorrelationToken resolves a provider callback token to its job.
func (r *JobRepo) GetByCorrelationToken(ctx context.Context, token string) (*model.Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE correlation_token = $1`+visibleJobPredicate, token)
}

// GetAnyByID retrieves a job regardless of its deletion marker.
// Admin recovery is the only caller.
func (r *JobRepo) GetAnyByID(ctx context.Context, id string) (*model.Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

func (r *JobRepo) getOne(ctx context.Context, query string, arg any) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, query, arg)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		job, qerr = collectJobFromRows(rows)
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("job not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// Transition applies one allowed lifecycle edge as a single-row atomic
// update. Repeating a transition the job already took is a no-op; a
// disallowed edge fails with an invalid_transition error and leaves the
// stored state unchanged.
func (r *JobRepo) Transition(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	if !params.From.Valid() || !params.To.Valid() {
		return nil, apperrors.Validationf("invalid job state in transition %s -> %s", params.From, params.To)
	}
	if !model.CanTransition(params.From, params.To) {
		// The edge may still be an idempotent repeat; resolveMissedTransition
		// sorts that out against the stored state.
		if params.From != params.To {
			return nil, apperrors.InvalidTransitionf("transition %s -> %s is not allowed", params.From, params.To)
		}
	}

	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = $3,
		    failure_cause = COALESCE($4, failure_cause),
		    updated_at = $5
		WHERE id = $1 AND state = $2`+visibleJobPredicate+`
		RETURNING `+jobColumns,
		params.JobID, params.From, params.To, params.FailureCause, currentTime,
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.resolveMissedTransition(ctx, params)
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("transition job: %w", err))
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "job transitioned",
			"job_id", params.JobID,
			"from", params.From,
			"to", params.To,
		)
	}
	return job, nil
}

// resolveMissedTransition classifies a zero-row transition update: the job
// may be gone, already in the target state (idempotent retry), or sitting
// on a state with no edge to the target.
func (r *JobRepo) resolveMissedTransition(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	job, err := r.GetByID(ctx, params.JobID)
	if err != nil {
		return nil, err
	}
	if job.State == params.To {
		return job, nil
	}
	return nil, apperrors.InvalidTransitionf(
		"transition %s -> %s is not allowed (job is %s)", params.From, params.To, job.State)
}

// SetPhone stores the verification identifier and advances the job from
// pending_phone to pending_upload in one statement.
func (r *JobRepo) SetPhone(ctx context.Context, id, phone string) (*model.Job, error) {
	normalized := model.NormalizePhone(phone)
	if normalized == "" {
		return nil, apperrors.ValidationField("phone", "phone is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET phone = $2, state = 'pending_upload', updated_at = $3
		WHERE id = $1 AND state = 'pending_phone'`+visibleJobPredicate+`
		RETURNING `+jobColumns,
		id, normalized, currentTime,
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.resolveMissedTransition(ctx, core.TransitionParams{
			JobID: id, From: model.JobStatePendingPhone, To: model.JobStatePendingUpload,
		})
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("set phone: %w", err))
	}
	return job, nil
}

// RecordUpload stores the source artifact key and moves the job from
// pending_upload to processing in one statement.
func (r *JobRepo) RecordUpload(ctx context.Context, id, artifactKey string) (*model.Job, error) {
	if artifactKey == "" {
		return nil, apperrors.ValidationField("artifact_key", "artifact key is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET source_artifact = $2, state = 'processing', updated_at = $3
		WHERE id = $1 AND state = 'pending_upload'`+visibleJobPredicate+`
		RETURNING `+jobColumns,
		id, artifactKey, currentTime,
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.resolveMissedTransition(ctx, core.TransitionParams{
			JobID: id, From: model.JobStatePendingUpload, To: model.JobStateProcessing,
		})
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("record upload: %w", err))
	}
	return job, nil
}

// Recover clears the deletion marker on a swept job. This is the explicit
// admin path; normal flow never unsets the marker.
func (r *JobRepo) Recover(ctx context.Context, id string) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET deleted_at = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NOT NULL
		RETURNING `+jobColumns,
		id, currentTime,
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or not deleted; distinguish for the caller.
		if _, getErr := r.GetAnyByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.Conflict("job is not deleted")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("recover job: %w", err))
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "job recovered from soft delete", "job_id", id)
	}
	return job, nil
}

// Stats returns visible job counts per lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE state = 'pending_payment') AS pending_payment,
    count(*) FILTER (WHERE state = 'pending_phone')   AS pending_phone,
    count(*) FILTER (WHERE state = 'pending_upload')  AS pending_upload,
    count(*) FILTER (WHERE state = 'processing')      AS processing,
    count(*) FILTER (WHERE state = 'analyzing')       AS analyzing,
    count(*) FILTER (WHERE state = 'completed')       AS completed,
    count(*) FILTER (WHERE state = 'failed')          AS failed,
    count(*) FILTER (WHERE state = 'expired')         AS expired
  FROM jobs
  WHERE deleted_at IS NULL
  `).Scan(
		&s.PendingPayment,
		&s.PendingPhone,
		&s.PendingUpload,
		&s.Processing,
		&s.Analyzing,
		&s.Completed,
		&s.Failed,
		&s.Expired,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job stats: %w", err))
	}
	return &s, nil
}
