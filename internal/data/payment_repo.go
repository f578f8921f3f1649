package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/data/pgxutil"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// PaymentRepo records processor confirmations. Merchant references are
// unique, which makes redelivered webhooks resolve to the original row
// instead of double-advancing the job.
type PaymentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewPaymentRepo creates a new PaymentRepo instance.
func NewPaymentRepo(db *sql.DB, cfg RepoConfig) *PaymentRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &PaymentRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

// Confirm applies one processor confirmation in a transaction. A confirmed
// payment advances the job out of pending_payment; a failed one only
// records the outcome. Replays of an already-recorded merchant reference
// write nothing and report AlreadyConfirmed.
func (r *PaymentRepo) Confirm(ctx context.Context, conf *model.PaymentConfirmation) (*core.PaymentOutcome, error) {
	if conf == nil {
		return nil, apperrors.Validation("payment confirmation is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid payment confirmation")
	}

	currentTime := r.timeProvider.Now().UTC()
	outcome := &core.PaymentOutcome{}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		existing, err := findPaymentByReference(ctx, tx, conf.MerchantReference)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.JobID != conf.JobID {
				return apperrors.Conflictf("merchant reference %s belongs to another job", conf.MerchantReference)
			}
			outcome.Payment = existing
			outcome.AlreadyConfirmed = true
			return nil
		}

		var state model.JobState
		var amountCents int64
		err = tx.QueryRow(ctx, `
			SELECT state, amount_cents FROM jobs
			WHERE id = $1`+visibleJobPredicate+`
			FOR UPDATE`,
			conf.JobID,
		).Scan(&state, &amountCents)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("job not found")
		}
		if err != nil {
			return fmt.Errorf("lock job row: %w", err)
		}

		if conf.AmountCents != amountCents {
			return apperrors.Conflictf("confirmed amount %d does not match job amount %d", conf.AmountCents, amountCents)
		}

		payment := &model.Payment{
			ID:                uuid.NewString(),
			JobID:             conf.JobID,
			MerchantReference: conf.MerchantReference,
			AmountCents:       conf.AmountCents,
			Status:            conf.Status,
			CreatedAt:         currentTime,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payments(id, job_id, merchant_reference, amount_cents, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			payment.ID, payment.JobID, payment.MerchantReference, payment.AmountCents, payment.Status, currentTime,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		outcome.Payment = payment

		if conf.Status != model.PaymentStatusConfirmed {
			// A failed confirmation is recorded but never moves the job.
			return nil
		}

		if state != model.JobStatePendingPayment {
			return apperrors.InvalidTransitionf("job %s is %s, not awaiting payment", conf.JobID, state)
		}
		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET state = 'pending_phone', updated_at = $2
			WHERE id = $1`,
			conf.JobID, currentTime,
		)
		if err != nil {
			return fmt.Errorf("advance job: %w", err)
		}
		return nil
	}})
	if err != nil {
		if apperrors.IsUniqueViolationOn(err, "merchant_reference") {
			// Raced with another delivery of the same webhook.
			existing, getErr := r.GetByMerchantReference(ctx, conf.MerchantReference)
			if getErr != nil {
				return nil, getErr
			}
			return &core.PaymentOutcome{Payment: existing, AlreadyConfirmed: true}, nil
		}
		if apperrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, apperrors.MapDBError(fmt.Errorf("confirm payment: %w", err))
	}

	if r.logger != nil && !outcome.AlreadyConfirmed {
		r.logger.InfoContext(ctx, "payment recorded",
			"job_id", conf.JobID,
			"merchant_reference", conf.MerchantReference,
			"status", conf.Status,
		)
	}
	return outcome, nil
}

// GetByMerchantReference retrieves a payment by its processor reference.
func (r *PaymentRepo) GetByMerchantReference(ctx context.Context, ref string) (*model.Payment, error) {
	payment := &model.Payment{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, job_id, merchant_reference, amount_cents, status, created_at
		FROM payments
		WHERE merchant_reference = $1`,
		ref,
	).Scan(&payment.ID, &payment.JobID, &payment.MerchantReference, &payment.AmountCents, &payment.Status, &payment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("payment not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get payment: %w", err))
	}
	return payment, nil
}

func findPaymentByReference(ctx context.Context, tx pgx.Tx, ref string) (*model.Payment, error) {
	payment := &model.Payment{}
	err := tx.QueryRow(ctx, `
		SELECT id, job_id, merchant_reference, amount_cents, status, created_at
		FROM payments
		WHERE merchant_reference = $1`,
		ref,
	).Scan(&payment.ID, &payment.JobID, &payment.MerchantReference, &payment.AmountCents, &payment.Status, &payment.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return payment, nil
}
