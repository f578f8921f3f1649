package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/mocks"
)

// mockGenJobRepo implements core.JobRepository for generation tests.
type mockGenJobRepo struct {
	job             *model.Job
	byTokenErr      error
	transitions     []core.TransitionParams
	recordUploadErr error
}

func (m *mockGenJobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return nil, nil
}

func (m *mockGenJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockGenJobRepo) GetByCorrelationToken(ctx context.Context, token string) (*model.Job, error) {
	if m.byTokenErr != nil {
		return nil, m.byTokenErr
	}
	return m.job, nil
}

func (m *mockGenJobRepo) GetAnyByID(ctx context.Context, id string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockGenJobRepo) Transition(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	m.transitions = append(m.transitions, params)
	return m.job, nil
}

func (m *mockGenJobRepo) SetPhone(ctx context.Context, id, phone string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockGenJobRepo) RecordUpload(ctx context.Context, id, artifactKey string) (*model.Job, error) {
	if m.recordUploadErr != nil {
		return nil, m.recordUploadErr
	}
	m.job.SourceArtifact = &artifactKey
	m.job.State = model.JobStateProcessing
	return m.job, nil
}

func (m *mockGenJobRepo) Recover(ctx context.Context, id string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockGenJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	return nil, nil
}

// mockGenAttemptRepo implements core.GenerationRepository and records
// pending inserts under a lock since dispatch runs concurrently.
type mockGenAttemptRepo struct {
	mu         sync.Mutex
	pending    []core.CreateAttemptParams
	resolution *core.CallbackResolution
	resolved   []core.ResolveCallbackParams
	resolveErr error
}

func (m *mockGenAttemptRepo) CreatePending(ctx context.Context, params core.CreateAttemptParams) (*model.GenerationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, params)
	return &model.GenerationAttempt{
		JobID:             params.JobID,
		ExternalRequestID: params.ExternalRequestID,
		Seed:              params.Seed,
		Status:            model.AttemptStatusPending,
	}, nil
}

func (m *mockGenAttemptRepo) ListByJob(ctx context.Context, jobID string) ([]*model.GenerationAttempt, error) {
	return nil, nil
}

func (m *mockGenAttemptRepo) ResolveCallback(ctx context.Context, params core.ResolveCallbackParams) (*core.CallbackResolution, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	m.resolved = append(m.resolved, params)
	return m.resolution, nil
}

// recordingAssembler counts assembly triggers.
type recordingAssembler struct {
	jobIDs []string
	err    error
}

func (a *recordingAssembler) AssembleForJob(ctx context.Context, jobID string) error {
	a.jobIDs = append(a.jobIDs, jobID)
	return a.err
}

func generationTestConfig() config.GenerationConfig {
	return config.GenerationConfig{RequiredArtifacts: 3}
}

func processingJob() *model.Job {
	return &model.Job{
		ID:               "job-1",
		State:            model.JobStatePendingUpload,
		CorrelationToken: "corr-token-1",
	}
}

func TestNewGenerationService(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockGenerationProvider(ctrl)

	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: &mockGenJobRepo{}, Attempts: &mockGenAttemptRepo{}},
			Provider: provider,
			Config:   generationTestConfig(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when provider is nil", func(t *testing.T) {
		_, err := NewGenerationService(GenerationServiceOptions{
			Repos:  GenerationRepos{Jobs: &mockGenJobRepo{}, Attempts: &mockGenAttemptRepo{}},
			Config: generationTestConfig(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GenerationProvider is required")
	})

	t.Run("returns error when attempt repository is nil", func(t *testing.T) {
		_, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: &mockGenJobRepo{}},
			Provider: provider,
			Config:   generationTestConfig(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GenerationRepository is required")
	})
}

func TestGenerationService_StartGeneration(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches one request per required artifact", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := mocks.NewMockGenerationProvider(ctrl)

		var mu sync.Mutex
		seeds := make(map[int64]bool)
		ids := []string{"ext-1", "ext-2", "ext-3"}
		provider.EXPECT().
			Dispatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req core.DispatchRequest) (string, error) {
				mu.Lock()
				defer mu.Unlock()
				assert.Equal(t, "uploads/source.png", req.SourceArtifact)
				assert.Equal(t, "corr-token-1", req.CallbackRef)
				seeds[req.Seed] = true
				id := ids[len(seeds)-1]
				return id, nil
			}).
			Times(3)

		attempts := &mockGenAttemptRepo{}
		jobs := &mockGenJobRepo{job: processingJob()}
		svc, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: jobs, Attempts: attempts},
			Provider: provider,
			Config:   generationTestConfig(),
		})
		require.NoError(t, err)

		job, err := svc.StartGeneration(ctx, "job-1", "uploads/source.png")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateProcessing, job.State)

		// Each request carries a distinct seed and lands a pending row.
		assert.Len(t, seeds, 3)
		assert.Len(t, attempts.pending, 3)
		assert.Empty(t, jobs.transitions)
	})

	t.Run("dispatch failure fails the job", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := mocks.NewMockGenerationProvider(ctrl)
		provider.EXPECT().
			Dispatch(gomock.Any(), gomock.Any()).
			Return("", apperrors.PermanentProvider("backend rejected request", nil)).
			AnyTimes()

		jobs := &mockGenJobRepo{job: processingJob()}
		svc, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: jobs, Attempts: &mockGenAttemptRepo{}},
			Provider: provider,
			Config:   generationTestConfig(),
		})
		require.NoError(t, err)

		_, err = svc.StartGeneration(ctx, "job-1", "uploads/source.png")
		require.Error(t, err)

		require.Len(t, jobs.transitions, 1)
		assert.Equal(t, model.JobStateProcessing, jobs.transitions[0].From)
		assert.Equal(t, model.JobStateFailed, jobs.transitions[0].To)
		require.NotNil(t, jobs.transitions[0].FailureCause)
	})

	t.Run("propagates upload errors without dispatching", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := mocks.NewMockGenerationProvider(ctrl)

		jobs := &mockGenJobRepo{job: processingJob(), recordUploadErr: apperrors.NotFound("job not found")}
		svc, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: jobs, Attempts: &mockGenAttemptRepo{}},
			Provider: provider,
			Config:   generationTestConfig(),
		})
		require.NoError(t, err)

		_, err = svc.StartGeneration(ctx, "job-1", "uploads/source.png")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestGenerationService_HandleCallback(t *testing.T) {
	ctx := context.Background()

	newService := func(t *testing.T, jobs *mockGenJobRepo, attempts *mockGenAttemptRepo, asm *recordingAssembler) *GenerationService {
		t.Helper()
		ctrl := gomock.NewController(t)
		svc, err := NewGenerationService(GenerationServiceOptions{
			Repos:    GenerationRepos{Jobs: jobs, Attempts: attempts},
			Provider: mocks.NewMockGenerationProvider(ctrl),
			Config:   generationTestConfig(),
		})
		require.NoError(t, err)
		if asm != nil {
			svc.SetAssembler(asm)
		}
		return svc
	}

	artifact := "artifacts/gen-1.png"
	callback := func() *model.GenerationCallback {
		return &model.GenerationCallback{
			ExternalRequestID: "ext-1",
			Status:            model.CallbackStatusSucceeded,
			ArtifactKey:       &artifact,
			EchoedInput:       model.EchoedInput{CorrelationToken: "corr-token-1", Seed: 42},
		}
	}

	t.Run("records a success callback", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{resolution: &core.CallbackResolution{SucceededCount: 1}}
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, attempts, nil)

		require.NoError(t, svc.HandleCallback(ctx, callback()))

		require.Len(t, attempts.resolved, 1)
		assert.Equal(t, "job-1", attempts.resolved[0].JobID)
		assert.Equal(t, model.AttemptStatusSucceeded, attempts.resolved[0].Status)
		assert.Equal(t, 3, attempts.resolved[0].RequiredSuccesses)
	})

	t.Run("failure callback maps to a failed attempt", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{resolution: &core.CallbackResolution{}}
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, attempts, nil)

		reason := "upstream timeout"
		cb := callback()
		cb.Status = model.CallbackStatusFailed
		cb.ArtifactKey = nil
		cb.FailureReason = &reason

		require.NoError(t, svc.HandleCallback(ctx, cb))
		require.Len(t, attempts.resolved, 1)
		assert.Equal(t, model.AttemptStatusFailed, attempts.resolved[0].Status)
		require.NotNil(t, attempts.resolved[0].FailureReason)
	})

	t.Run("last success triggers report assembly", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{resolution: &core.CallbackResolution{Advanced: true, SucceededCount: 3}}
		asm := &recordingAssembler{}
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, attempts, asm)

		require.NoError(t, svc.HandleCallback(ctx, callback()))
		assert.Equal(t, []string{"job-1"}, asm.jobIDs)
	})

	t.Run("assembly errors are not returned to the provider", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{resolution: &core.CallbackResolution{Advanced: true, SucceededCount: 3}}
		asm := &recordingAssembler{err: assert.AnError}
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, attempts, asm)

		require.NoError(t, svc.HandleCallback(ctx, callback()))
		assert.Len(t, asm.jobIDs, 1)
	})

	t.Run("duplicate delivery acknowledges without assembly", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{resolution: &core.CallbackResolution{Duplicate: true, SucceededCount: 3}}
		asm := &recordingAssembler{}
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, attempts, asm)

		require.NoError(t, svc.HandleCallback(ctx, callback()))
		assert.Empty(t, asm.jobIDs)
	})

	t.Run("unknown correlation token is dropped", func(t *testing.T) {
		attempts := &mockGenAttemptRepo{}
		jobs := &mockGenJobRepo{byTokenErr: apperrors.NotFound("job not found")}
		svc := newService(t, jobs, attempts, nil)

		require.NoError(t, svc.HandleCallback(ctx, callback()))
		assert.Empty(t, attempts.resolved)
	})

	t.Run("rejects nil callback", func(t *testing.T) {
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, &mockGenAttemptRepo{}, nil)

		err := svc.HandleCallback(ctx, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects success callback without an artifact reference", func(t *testing.T) {
		svc := newService(t, &mockGenJobRepo{job: processingJob()}, &mockGenAttemptRepo{}, nil)

		cb := callback()
		cb.ArtifactKey = nil
		err := svc.HandleCallback(ctx, cb)
		require.Error(t, err)
	})
}
