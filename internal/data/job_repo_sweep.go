package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/data/pgxutil"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// Advisory lock namespace for sweep operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for lumiscan sweep operations.
const (
	advisoryLockSweepMajor          = 1000
	advisoryLockSweepExpire         = 1 // minor key for MarkExpired
	advisoryLockSweepFailProcessing = 2 // minor key for FailOverdueProcessing
)

// MarkExpired sets the deletion marker on jobs past their expiry instant.
// Processes up to batchSize jobs per call to prevent long locks and I/O
// spikes. Uses advisory locks so concurrent sweeper instances skip the
// batch instead of contending. Already-marked jobs never match, which is
// what makes repeated sweeps of the same backlog idempotent.
// Returns the number of jobs marked.
func (r *JobRepo) MarkExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, apperrors.Validationf("invalid batch size: %d", batchSize)
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweepMajor, advisoryLockSweepExpire).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now().UTC()

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET state = 'expired',
					deleted_at = $1,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE expires_at < $1
						AND deleted_at IS NULL
					ORDER BY expires_at ASC
					LIMIT $2
					FOR UPDATE SKIP LOCKED
				)`,
				currentTime, batchSize,
			)
			if err != nil {
				return fmt.Errorf("mark expired jobs: %w", err)
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("mark expired: %w", err))
	}

	if rowsAffected > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "expired jobs swept", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// FailOverdueProcessing fails jobs stuck in processing or analyzing longer
// than maxAge. These jobs are waiting on provider callbacks that will
// never arrive. Processes up to batchSize jobs per call.
// Returns the number of jobs failed.
func (r *JobRepo) FailOverdueProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, apperrors.Validationf("invalid batch size: %d", batchSize)
	}
	if maxAge <= 0 {
		return 0, apperrors.Validationf("invalid max age: %s", maxAge)
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweepMajor, advisoryLockSweepFailProcessing).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now().UTC()
			cutoffTime := currentTime.Add(-maxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET state = 'failed',
					failure_cause = 'timed out waiting for generation',
					updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE state IN ('processing', 'analyzing')
						AND updated_at < $2
						AND deleted_at IS NULL
					ORDER BY updated_at ASC
					LIMIT $3
					FOR UPDATE SKIP LOCKED
				)`,
				currentTime, cutoffTime, batchSize,
			)
			if err != nil {
				return fmt.Errorf("fail overdue jobs: %w", err)
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("fail overdue processing: %w", err))
	}

	if rowsAffected > 0 && r.logger != nil {
		r.logger.WarnContext(ctx, "overdue processing jobs failed", "count", rowsAffected, "max_age", maxAge)
	}
	return rowsAffected, nil
}
