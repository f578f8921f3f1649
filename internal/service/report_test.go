package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// mockReportRepo implements core.ReportRepository with a single stored
// report and a conflict switch for the second insert.
type mockReportRepo struct {
	created   []core.CreateReportParams
	report    *model.Report
	createErr error
	getErr    error
}

func (m *mockReportRepo) Create(ctx context.Context, params core.CreateReportParams) (*model.Report, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, params)
	return &model.Report{
		ID:               "report-1",
		JobID:            params.JobID,
		AnalysisSummary:  params.AnalysisSummary,
		ImprovementAreas: params.ImprovementAreas,
		Matches:          params.Matches,
	}, nil
}

func (m *mockReportRepo) GetByJobID(ctx context.Context, jobID string) (*model.Report, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.report, nil
}

// mockReportAttemptRepo returns a fixed attempt list for assembly.
type mockReportAttemptRepo struct {
	attempts []*model.GenerationAttempt
	listErr  error
}

func (m *mockReportAttemptRepo) CreatePending(ctx context.Context, params core.CreateAttemptParams) (*model.GenerationAttempt, error) {
	return nil, nil
}

func (m *mockReportAttemptRepo) ListByJob(ctx context.Context, jobID string) ([]*model.GenerationAttempt, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.attempts, nil
}

func (m *mockReportAttemptRepo) ResolveCallback(ctx context.Context, params core.ResolveCallbackParams) (*core.CallbackResolution, error) {
	return nil, nil
}

// stubAnalyzer implements core.AnalysisProvider.
type stubAnalyzer struct {
	result   *core.AnalysisResult
	err      error
	requests []core.AnalyzeRequest
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req core.AnalyzeRequest) (*core.AnalysisResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubMatcher implements the matcher port.
type stubMatcher struct {
	results []model.MatchResult
	err     error
	areas   []model.ImprovementArea
}

func (s *stubMatcher) Match(ctx context.Context, areas []model.ImprovementArea) ([]model.MatchResult, error) {
	s.areas = areas
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

// stubNotifier implements core.NotificationDispatcher.
type stubNotifier struct {
	destinations []string
	err          error
}

func (s *stubNotifier) Send(ctx context.Context, destination, text string) (string, error) {
	s.destinations = append(s.destinations, destination)
	if s.err != nil {
		return "", s.err
	}
	return "delivery-1", nil
}

func analyzingJob() *model.Job {
	source := "uploads/source.png"
	phone := "15551234567"
	return &model.Job{
		ID:             "job-1",
		State:          model.JobStateAnalyzing,
		Phone:          &phone,
		SourceArtifact: &source,
	}
}

func succeededAttempts(keys ...string) []*model.GenerationAttempt {
	out := make([]*model.GenerationAttempt, 0, len(keys))
	for _, key := range keys {
		k := key
		out = append(out, &model.GenerationAttempt{
			Status:      model.AttemptStatusSucceeded,
			ArtifactKey: &k,
		})
	}
	return out
}

type reportFixture struct {
	jobs     *mockVerifyJobRepo
	attempts *mockReportAttemptRepo
	reports  *mockReportRepo
	analyzer *stubAnalyzer
	matcher  *stubMatcher
	notifier *stubNotifier
}

func newReportService(t *testing.T, f reportFixture) *ReportService {
	t.Helper()
	if f.jobs == nil {
		f.jobs = &mockVerifyJobRepo{job: analyzingJob()}
	}
	if f.attempts == nil {
		f.attempts = &mockReportAttemptRepo{attempts: succeededAttempts("a1", "a2", "a3")}
	}
	if f.reports == nil {
		f.reports = &mockReportRepo{}
	}
	if f.analyzer == nil {
		f.analyzer = &stubAnalyzer{result: &core.AnalysisResult{
			Summary: "overall even tone",
			Areas:   []model.ImprovementArea{{Label: "texture", Observation: "uneven"}},
		}}
	}
	if f.matcher == nil {
		f.matcher = &stubMatcher{results: []model.MatchResult{{ItemID: "p1", Score: 0.8, DisplayOrder: 1}}}
	}

	opts := ReportServiceOptions{
		Repos:    ReportRepos{Jobs: f.jobs, Attempts: f.attempts, Reports: f.reports},
		Matcher:  f.matcher,
		Analyzer: f.analyzer,
	}
	if f.notifier != nil {
		opts.Notifier = f.notifier
	}
	svc, err := NewReportService(opts)
	require.NoError(t, err)
	return svc
}

func TestNewReportService(t *testing.T) {
	t.Run("returns error when matcher is nil", func(t *testing.T) {
		_, err := NewReportService(ReportServiceOptions{
			Repos:    ReportRepos{Jobs: &mockVerifyJobRepo{}, Attempts: &mockReportAttemptRepo{}, Reports: &mockReportRepo{}},
			Analyzer: &stubAnalyzer{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matcher is required")
	})

	t.Run("returns error when analyzer is nil", func(t *testing.T) {
		_, err := NewReportService(ReportServiceOptions{
			Repos:   ReportRepos{Jobs: &mockVerifyJobRepo{}, Attempts: &mockReportAttemptRepo{}, Reports: &mockReportRepo{}},
			Matcher: &stubMatcher{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AnalysisProvider is required")
	})
}

func TestReportService_AssembleForJob(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles the report from succeeded artifacts", func(t *testing.T) {
		f := reportFixture{
			reports:  &mockReportRepo{},
			analyzer: &stubAnalyzer{result: &core.AnalysisResult{Summary: "summary", Areas: []model.ImprovementArea{{Label: "texture"}}}},
			matcher:  &stubMatcher{results: []model.MatchResult{{ItemID: "p1", DisplayOrder: 1}}},
			notifier: &stubNotifier{},
		}
		svc := newReportService(t, f)

		require.NoError(t, svc.AssembleForJob(ctx, "job-1"))

		require.Len(t, f.analyzer.requests, 1)
		assert.Equal(t, "uploads/source.png", f.analyzer.requests[0].SourceArtifact)
		assert.Equal(t, []string{"a1", "a2", "a3"}, f.analyzer.requests[0].ArtifactKeys)

		require.Len(t, f.reports.created, 1)
		assert.Equal(t, "summary", f.reports.created[0].AnalysisSummary)
		assert.Equal(t, []string{"texture"}, f.reports.created[0].ImprovementAreas)
		assert.Len(t, f.reports.created[0].Matches, 1)

		// Report-ready notification goes to the job's stored identifier.
		assert.Equal(t, []string{"15551234567"}, f.notifier.destinations)
	})

	t.Run("skips failed attempts when collecting artifacts", func(t *testing.T) {
		reason := "provider gave up"
		attempts := &mockReportAttemptRepo{attempts: append(
			succeededAttempts("a1", "a2"),
			&model.GenerationAttempt{Status: model.AttemptStatusFailed, FailureReason: &reason},
		)}
		f := reportFixture{attempts: attempts, analyzer: &stubAnalyzer{result: &core.AnalysisResult{Summary: "s", Areas: []model.ImprovementArea{{Label: "tone"}}}}}
		svc := newReportService(t, f)

		require.NoError(t, svc.AssembleForJob(ctx, "job-1"))
		assert.Equal(t, []string{"a1", "a2"}, f.analyzer.requests[0].ArtifactKeys)
	})

	t.Run("rejects jobs that are not analyzing", func(t *testing.T) {
		job := analyzingJob()
		job.State = model.JobStateProcessing
		svc := newReportService(t, reportFixture{jobs: &mockVerifyJobRepo{job: job}})

		err := svc.AssembleForJob(ctx, "job-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidTransition(err))
	})

	t.Run("second assembly surfaces the repository conflict", func(t *testing.T) {
		f := reportFixture{reports: &mockReportRepo{createErr: apperrors.Conflict("report already exists")}}
		svc := newReportService(t, f)

		err := svc.AssembleForJob(ctx, "job-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("analysis failure aborts assembly", func(t *testing.T) {
		f := reportFixture{analyzer: &stubAnalyzer{err: apperrors.PermanentProvider("empty analysis", nil)}, reports: &mockReportRepo{}}
		svc := newReportService(t, f)

		err := svc.AssembleForJob(ctx, "job-1")
		require.Error(t, err)
		assert.Empty(t, f.reports.created)
	})

	t.Run("notification failure does not fail assembly", func(t *testing.T) {
		f := reportFixture{notifier: &stubNotifier{err: assert.AnError}}
		svc := newReportService(t, f)

		require.NoError(t, svc.AssembleForJob(ctx, "job-1"))
	})
}

func TestReportService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the job's report", func(t *testing.T) {
		reports := &mockReportRepo{report: &model.Report{ID: "report-1", JobID: "job-1"}}
		svc := newReportService(t, reportFixture{reports: reports})

		report, err := svc.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "report-1", report.ID)
	})

	t.Run("swept job hides its report", func(t *testing.T) {
		jobs := &mockVerifyJobRepo{getErr: apperrors.NotFound("job not found")}
		svc := newReportService(t, reportFixture{jobs: jobs, reports: &mockReportRepo{report: &model.Report{ID: "report-1"}}})

		_, err := svc.Get(ctx, "job-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
