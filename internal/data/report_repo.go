package data

import (
	"context"
	"database/sql"
	"encoding/json"
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

// ReportRepo persists assembled reports. A job gets at most one report,
// enforced by a unique constraint on the job id, and report creation
// completes the job in the same transaction.
type ReportRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewReportRepo creates a new ReportRepo instance.
func NewReportRepo(db *sql.DB, cfg RepoConfig) *ReportRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ReportRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

// Create inserts the report with its ordered match rows and moves the job
// from analyzing to completed, all in one transaction. A second report
// for the same job rolls everything back with a conflict.
func (r *ReportRepo) Create(ctx context.Context, params core.CreateReportParams) (*model.Report, error) {
	if params.JobID == "" {
		return nil, apperrors.Validation("job id is required")
	}

	areas, err := json.Marshal(params.ImprovementAreas)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode improvement areas")
	}

	currentTime := r.timeProvider.Now().UTC()
	report := &model.Report{
		ID:               uuid.NewString(),
		JobID:            params.JobID,
		AnalysisSummary:  params.AnalysisSummary,
		ImprovementAreas: params.ImprovementAreas,
		CreatedAt:        currentTime,
	}

	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reports(id, job_id, analysis_summary, improvement_areas, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			report.ID, report.JobID, report.AnalysisSummary, areas, currentTime,
		)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		for i := range params.Matches {
			m := &params.Matches[i]
			m.ID = uuid.NewString()
			m.ReportID = report.ID
			m.DisplayOrder = i + 1
			_, err := tx.Exec(ctx, `
				INSERT INTO match_results(id, report_id, item_id, kind, score, rationale, display_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.ID, m.ReportID, m.ItemID, m.Kind, m.Score, m.Rationale, m.DisplayOrder,
			)
			if err != nil {
				return fmt.Errorf("insert match result: %w", err)
			}
		}
		report.Matches = params.Matches

		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET state = 'completed', updated_at = $2
			WHERE id = $1 AND state = 'analyzing'`+visibleJobPredicate,
			report.JobID, currentTime,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return apperrors.InvalidTransitionf("job %s cannot be completed", report.JobID)
		}
		return nil
	}})
	if err != nil {
		if apperrors.IsUniqueViolationOn(err, "job_id") {
			return nil, apperrors.Conflictf("job %s already has a report", params.JobID)
		}
		if apperrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, apperrors.MapDBError(fmt.Errorf("create report: %w", err))
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "report created",
			"report_id", report.ID,
			"job_id", report.JobID,
			"matches", len(report.Matches),
		)
	}
	return report, nil
}

// GetByJobID retrieves a job's report with its match rows in display order.
func (r *ReportRepo) GetByJobID(ctx context.Context, jobID string) (*model.Report, error) {
	report := &model.Report{}
	var areas []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, job_id, analysis_summary, improvement_areas, created_at
		FROM reports
		WHERE job_id = $1`,
		jobID,
	).Scan(&report.ID, &report.JobID, &report.AnalysisSummary, &areas, &report.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("report not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get report: %w", err))
	}
	if err := json.Unmarshal(areas, &report.ImprovementAreas); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode improvement areas")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, report_id, item_id, kind, score, rationale, display_order
		FROM match_results
		WHERE report_id = $1
		ORDER BY display_order ASC`,
		report.ID,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list match results: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var m model.MatchResult
		if scanErr := rows.Scan(&m.ID, &m.ReportID, &m.ItemID, &m.Kind, &m.Score, &m.Rationale, &m.DisplayOrder); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan match result: %w", scanErr))
		}
		report.Matches = append(report.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list match results: %w", err))
	}
	return report, nil
}
