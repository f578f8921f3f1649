package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/metrics"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// ReportRepos groups the repositories ReportService depends on.
type ReportRepos struct {
	Jobs     core.JobRepository
	Attempts core.GenerationRepository
	Reports  core.ReportRepository
}

// matcher selects the top knowledge items for a set of improvement areas.
type matcher interface {
	Match(ctx context.Context, areas []model.ImprovementArea) ([]model.MatchResult, error)
}

// ReportServiceOptions groups dependencies for ReportService.
type ReportServiceOptions struct {
	Repos    ReportRepos                 // Required: job, attempt, and report stores
	Matcher  matcher                     // Required: knowledge matcher
	Analyzer core.AnalysisProvider       // Required: analysis backend
	Notifier core.NotificationDispatcher // Optional: report-ready notification
	Logger   *slog.Logger                // Optional: structured logger
	Metrics  statsd.Sink                 // Optional: metrics sink (StatsD-compatible)
}

// ReportService assembles the final report once every artifact arrived.
//
// A job gets exactly one report: assembly inserts the report, its ordered
// matches, and the completed transition in one transaction, and a second
// assembly attempt conflicts.
type ReportService struct {
	jobs     core.JobRepository
	attempts core.GenerationRepository
	reports  core.ReportRepository
	matcher  matcher
	analyzer core.AnalysisProvider
	notifier core.NotificationDispatcher
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewReportService constructs a new ReportService.
func NewReportService(opts ReportServiceOptions) (*ReportService, error) {
	if opts.Repos.Jobs == nil {
		return nil, fmt.Errorf("JobRepository is required")
	}
	if opts.Repos.Attempts == nil {
		return nil, fmt.Errorf("GenerationRepository is required")
	}
	if opts.Repos.Reports == nil {
		return nil, fmt.Errorf("ReportRepository is required")
	}
	if opts.Matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if opts.Analyzer == nil {
		return nil, fmt.Errorf("AnalysisProvider is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "report_service")
	}

	return &ReportService{
		jobs:     opts.Repos.Jobs,
		attempts: opts.Repos.Attempts,
		reports:  opts.Repos.Reports,
		matcher:  opts.Matcher,
		analyzer: opts.Analyzer,
		notifier: opts.Notifier,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// AssembleForJob builds and persists the report for a job whose artifacts
// all arrived. Safe to call twice: the second call reports a conflict and
// changes nothing.
func (s *ReportService) AssembleForJob(ctx context.Context, jobID string) error {
	start := time.Now()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.State != model.JobStateAnalyzing {
		return apperrors.InvalidTransitionf("job %s is %s, not ready for assembly", jobID, job.State)
	}
	if job.SourceArtifact == nil {
		return apperrors.Internal("job in analyzing without a source artifact")
	}

	artifactKeys, err := s.succeededArtifacts(ctx, jobID)
	if err != nil {
		return err
	}

	analysis, err := s.analyzer.Analyze(ctx, core.AnalyzeRequest{
		SourceArtifact: *job.SourceArtifact,
		ArtifactKeys:   artifactKeys,
	})
	if err != nil {
		return fmt.Errorf("analyze artifacts: %w", err)
	}

	matches, err := s.matcher.Match(ctx, analysis.Areas)
	if err != nil {
		return fmt.Errorf("match knowledge items: %w", err)
	}

	labels := make([]string, len(analysis.Areas))
	for i, area := range analysis.Areas {
		labels[i] = area.Label
	}

	report, err := s.reports.Create(ctx, core.CreateReportParams{
		JobID:            jobID,
		AnalysisSummary:  analysis.Summary,
		ImprovementAreas: labels,
		Matches:          matches,
	})
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	s.emitAssembly(time.Since(start), nil)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "report assembled",
			"job_id", jobID,
			"report_id", report.ID,
			"matches", len(report.Matches),
		)
	}

	s.notifyReady(ctx, job)
	return nil
}

func (s *ReportService) succeededArtifacts(ctx context.Context, jobID string) ([]string, error) {
	attempts, err := s.attempts.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	var keys []string
	for _, a := range attempts {
		if a.Status == model.AttemptStatusSucceeded && a.ArtifactKey != nil {
			keys = append(keys, *a.ArtifactKey)
		}
	}
	if len(keys) == 0 {
		return nil, apperrors.Internal("no succeeded artifacts for assembly")
	}
	return keys, nil
}

// notifyReady fires the report-ready notification. Delivery is
// best-effort; the report already exists either way.
func (s *ReportService) notifyReady(ctx context.Context, job *model.Job) {
	if s.notifier == nil || job.Phone == nil {
		return
	}
	deliveryID, err := s.notifier.Send(ctx, *job.Phone, "Your analysis report is ready.")
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "report-ready notification failed",
				"job_id", job.ID, "error", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "report-ready notification sent",
			"job_id", job.ID, "delivery_id", deliveryID)
	}
}

// Get returns a job's report. Swept jobs surface as not found even though
// the report row still exists.
func (s *ReportService) Get(ctx context.Context, jobID string) (*model.Report, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	report, err := s.reports.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

func (s *ReportService) emitAssembly(elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	s.metrics.Count("report.assembly", 1, map[string]string{"result": result})
	if elapsed > 0 {
		s.metrics.Timing("report.assembly_duration", elapsed, map[string]string{"result": result})
	}
}
