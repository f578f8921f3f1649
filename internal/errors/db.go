package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts field name from unique violation detail: "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances.
// It handles common database error patterns including:
// - pgx.ErrNoRows → NotFound
// - Unique constraint violations → Conflict
// - Check constraint violations → Validation
// - NOT NULL violations → Validation
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out. Please try again.",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "Request was canceled.",
			Cause:   err,
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "Resource not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "Cannot complete operation because a referenced record does not exist or is in use.",
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return mapConstraintViolation(pgErr)
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   pgErr,
		}
	}
}

// mapUniqueViolation maps unique constraint violations to Conflict errors.
// The offending field name feeds idempotency decisions upstream (duplicate
// merchant references and external request ids are handled as no-ops there).
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName

	// Fallback: parse Detail for "Key (field)=(value) already exists."
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}

	// Last resort: infer from constraint name, e.g. "payments_merchant_ref_key" → "merchant_ref".
	if field == "" {
		field = inferFieldFromConstraint(pgErr.ConstraintName)
	}

	return &AppError{
		Code:    ErrCodeConflict,
		Message: "This value already exists.",
		Field:   field,
		Cause:   pgErr,
	}
}

// mapConstraintViolation maps CHECK and NOT NULL violations to Validation errors.
func mapConstraintViolation(pgErr *pgconn.PgError) error {
	if pgErr.ColumnName != "" {
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "This field has an invalid value.",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	}
	return &AppError{
		Code:    ErrCodeValidation,
		Message: "Invalid data. Please check your input.",
		Cause:   pgErr,
	}
}

// inferFieldFromConstraint attempts to infer the field name from a constraint name.
// e.g., "jobs_correlation_token_key" → "correlation_token"
// Returns empty string if inference fails or is ambiguous.
func inferFieldFromConstraint(constraintName string) string {
	if constraintName == "" {
		return ""
	}

	name := strings.ToLower(constraintName)
	for _, suffix := range []string{"_key", "_unique", "_idx"} {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	// Constraint names follow "table_field...", strip the first segment.
	if i := strings.Index(name, "_"); i > 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}

// IsUniqueViolationOn reports whether err is a unique-constraint Conflict on
// the given column. Used by callers that treat specific duplicates as
// idempotent deliveries rather than failures.
func IsUniqueViolationOn(err error, field string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != ErrCodeConflict {
		return false
	}
	return appErr.Field == field
}
