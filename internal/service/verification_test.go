package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/data"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// mockVerifyJobRepo implements core.JobRepository for verification tests.
type mockVerifyJobRepo struct {
	job    *model.Job
	getErr error
}

func (m *mockVerifyJobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return nil, nil
}

func (m *mockVerifyJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.job, nil
}

func (m *mockVerifyJobRepo) GetByCorrelationToken(ctx context.Context, token string) (*model.Job, error) {
	return nil, nil
}

func (m *mockVerifyJobRepo) GetAnyByID(ctx context.Context, id string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockVerifyJobRepo) Transition(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	return m.job, nil
}

func (m *mockVerifyJobRepo) SetPhone(ctx context.Context, id, phone string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockVerifyJobRepo) RecordUpload(ctx context.Context, id, artifactKey string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockVerifyJobRepo) Recover(ctx context.Context, id string) (*model.Job, error) {
	return m.job, nil
}

func (m *mockVerifyJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	return nil, nil
}

// mockAttemptLog implements core.VerificationRepository with a counter for
// the lifetime failure cap.
type mockAttemptLog struct {
	failures     int
	appended     []core.AppendAttemptParams
	appendErr    error
	countFailErr error
}

func (m *mockAttemptLog) Append(ctx context.Context, params core.AppendAttemptParams) (*model.VerificationAttempt, error) {
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	m.appended = append(m.appended, params)
	if !params.Success {
		m.failures++
	}
	return &model.VerificationAttempt{JobID: params.JobID, Success: params.Success}, nil
}

func (m *mockAttemptLog) CountFailures(ctx context.Context, jobID string) (int, error) {
	if m.countFailErr != nil {
		return 0, m.countFailErr
	}
	return m.failures, nil
}

func (m *mockAttemptLog) ListByJob(ctx context.Context, jobID string) ([]*model.VerificationAttempt, error) {
	return nil, nil
}

// mockRateWindow implements core.RateWindow backed by a plain counter.
type mockRateWindow struct {
	count      int
	incrCalls  int
	resetCalls int
	incrErr    error
	resetErr   error
}

func (m *mockRateWindow) Incr(ctx context.Context, jobID, sourceAddr string, window time.Duration) (int, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.incrCalls++
	m.count++
	return m.count, nil
}

func (m *mockRateWindow) Count(ctx context.Context, jobID, sourceAddr string) (int, error) {
	return m.count, nil
}

func (m *mockRateWindow) Reset(ctx context.Context, jobID, sourceAddr string) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resetCalls++
	m.count = 0
	return nil
}

func verificationTestConfig() config.VerificationConfig {
	return config.VerificationConfig{
		WindowFailureLimit:   3,
		Window:               time.Hour,
		LifetimeFailureLimit: 10,
		TokenTTL:             15 * time.Minute,
	}
}

func verifiableJob(phone string, expiresAt time.Time) *model.Job {
	return &model.Job{
		ID:        "job-1",
		State:     model.JobStateCompleted,
		Phone:     &phone,
		ExpiresAt: expiresAt,
	}
}

func newVerificationFixture(t *testing.T, job *model.Job, attempts *mockAttemptLog, window *mockRateWindow) (*VerificationService, *data.FixedTimeProvider) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := data.NewFixedTimeProvider(now)
	signer, err := NewTokenSigner(TokenSignerOptions{
		Secret:       "test-secret",
		TTL:          15 * time.Minute,
		TimeProvider: clock,
	})
	require.NoError(t, err)

	svc, err := NewVerificationService(VerificationServiceOptions{
		Repos: VerificationRepos{
			Jobs:     &mockVerifyJobRepo{job: job},
			Attempts: attempts,
			Window:   window,
		},
		Signer:       signer,
		Config:       verificationTestConfig(),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	return svc, clock
}

func TestNewVerificationService(t *testing.T) {
	signer, err := NewTokenSigner(TokenSignerOptions{Secret: "s", TTL: time.Minute})
	require.NoError(t, err)

	repos := VerificationRepos{
		Jobs:     &mockVerifyJobRepo{},
		Attempts: &mockAttemptLog{},
		Window:   &mockRateWindow{},
	}

	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewVerificationService(VerificationServiceOptions{Repos: repos, Signer: signer})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when job repository is nil", func(t *testing.T) {
		bad := repos
		bad.Jobs = nil
		_, err := NewVerificationService(VerificationServiceOptions{Repos: bad, Signer: signer})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobRepository is required")
	})

	t.Run("returns error when signer is nil", func(t *testing.T) {
		_, err := NewVerificationService(VerificationServiceOptions{Repos: repos})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TokenSigner is required")
	})
}

func TestVerificationService_Verify(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	request := func() *model.VerifyRequest {
		return &model.VerifyRequest{
			JobID:        "job-1",
			ClaimedPhone: "1555-123-4567",
			SourceAddr:   "203.0.113.7",
		}
	}

	t.Run("matching identifier issues an access token", func(t *testing.T) {
		attempts := &mockAttemptLog{}
		window := &mockRateWindow{count: 2}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), attempts, window)

		result, err := svc.Verify(ctx, request())
		require.NoError(t, err)
		assert.True(t, result.Verified)
		assert.NotEmpty(t, result.AccessToken)
		assert.Nil(t, result.RemainingAttempts)

		require.Len(t, attempts.appended, 1)
		assert.True(t, attempts.appended[0].Success)
		assert.Equal(t, 1, window.resetCalls)
	})

	t.Run("mismatch records the failure and reports remaining attempts", func(t *testing.T) {
		attempts := &mockAttemptLog{}
		window := &mockRateWindow{}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 999 0000", expiry), attempts, window)

		result, err := svc.Verify(ctx, request())
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.Empty(t, result.AccessToken)
		require.NotNil(t, result.RemainingAttempts)
		assert.Equal(t, 2, *result.RemainingAttempts)

		require.Len(t, attempts.appended, 1)
		assert.False(t, attempts.appended[0].Success)
		assert.Equal(t, 1, window.incrCalls)
	})

	t.Run("failure crossing the window limit is rate limited", func(t *testing.T) {
		attempts := &mockAttemptLog{}
		window := &mockRateWindow{count: 2}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 999 0000", expiry), attempts, window)

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsRateLimited(err))
		// The attempt still lands in the lifetime log.
		assert.Len(t, attempts.appended, 1)
	})

	t.Run("exhausted window blocks before comparison", func(t *testing.T) {
		attempts := &mockAttemptLog{}
		window := &mockRateWindow{count: 3}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), attempts, window)

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsRateLimited(err))
		assert.Empty(t, attempts.appended)
	})

	t.Run("failure crossing the lifetime cap locks immediately", func(t *testing.T) {
		attempts := &mockAttemptLog{failures: 9}
		window := &mockRateWindow{}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 999 0000", expiry), attempts, window)

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsRateLimited(err))
		assert.Contains(t, err.Error(), "permanently locked")
		// The crossing attempt itself is persisted.
		assert.Len(t, attempts.appended, 1)
		assert.Equal(t, 10, attempts.failures)
		// Once locked for good the window is irrelevant.
		assert.Equal(t, 0, window.incrCalls)
	})

	t.Run("lifetime failure cap locks the job for good", func(t *testing.T) {
		attempts := &mockAttemptLog{failures: 10}
		window := &mockRateWindow{}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), attempts, window)

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsRateLimited(err))
		assert.Contains(t, err.Error(), "permanently locked")
	})

	t.Run("expiry wins over rate limiting", func(t *testing.T) {
		attempts := &mockAttemptLog{failures: 10}
		window := &mockRateWindow{count: 3}
		svc, clock := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), attempts, window)
		clock.SetTime(expiry.Add(time.Minute))

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsExpired(err))
		assert.False(t, apperrors.IsRateLimited(err))
	})

	t.Run("expired state is terminal regardless of the clock", func(t *testing.T) {
		job := verifiableJob("1555 123 4567", expiry)
		job.State = model.JobStateExpired
		svc, _ := newVerificationFixture(t, job, &mockAttemptLog{}, &mockRateWindow{})

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsExpired(err))
	})

	t.Run("job without an identifier is a conflict", func(t *testing.T) {
		job := verifiableJob("", expiry)
		job.Phone = nil
		svc, _ := newVerificationFixture(t, job, &mockAttemptLog{}, &mockRateWindow{})

		_, err := svc.Verify(ctx, request())
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("rejects nil request", func(t *testing.T) {
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), &mockAttemptLog{}, &mockRateWindow{})

		_, err := svc.Verify(ctx, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects request without a claimed identifier", func(t *testing.T) {
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), &mockAttemptLog{}, &mockRateWindow{})

		req := request()
		req.ClaimedPhone = "  "
		_, err := svc.Verify(ctx, req)
		require.Error(t, err)
	})
}

func TestVerificationService_ValidateAccessToken(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	job := verifiableJob("1555 123 4567", expiry)
	svc, _ := newVerificationFixture(t, job, &mockAttemptLog{}, &mockRateWindow{})

	result, err := svc.Verify(ctx, &model.VerifyRequest{
		JobID:        "job-1",
		ClaimedPhone: "15551234567",
		SourceAddr:   "203.0.113.7",
	})
	require.NoError(t, err)
	require.True(t, result.Verified)

	t.Run("accepts a token for the matching job", func(t *testing.T) {
		claims, err := svc.ValidateAccessToken(ctx, "job-1", result.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "job-1", claims.JobID)
		assert.Equal(t, "15551234567", claims.Identifier)
	})

	t.Run("rejects a token bound to another job", func(t *testing.T) {
		_, err := svc.ValidateAccessToken(ctx, "job-2", result.AccessToken)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects garbage tokens", func(t *testing.T) {
		_, err := svc.ValidateAccessToken(ctx, "job-1", "nonsense")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestVerificationService_ResetLockout(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("clears the window but not the lifetime log", func(t *testing.T) {
		attempts := &mockAttemptLog{failures: 4}
		window := &mockRateWindow{count: 3}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), attempts, window)

		require.NoError(t, svc.ResetLockout(ctx, "job-1", "203.0.113.7"))
		assert.Equal(t, 0, window.count)
		assert.Equal(t, 4, attempts.failures)
	})

	t.Run("propagates window errors", func(t *testing.T) {
		window := &mockRateWindow{resetErr: assert.AnError}
		svc, _ := newVerificationFixture(t, verifiableJob("1555 123 4567", expiry), &mockAttemptLog{}, window)

		err := svc.ResetLockout(ctx, "job-1", "203.0.113.7")
		require.Error(t, err)
	})
}
