package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiscan/lumiscan-api/config"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// mockSweepRepo implements core.SweepRepository. The first call to each step
// returns the configured count, later calls return 0 to simulate a drained
// backlog.
type mockSweepRepo struct {
	expiredCount       int64
	overdueCount       int64
	markExpiredCalls   int
	failOverdueCalls   int
	markExpiredErr     error
	failOverdueErr     error
	lastOverdueMaxAge  time.Duration
	lastBatchSizeGiven int
}

func (m *mockSweepRepo) MarkExpired(ctx context.Context, batchSize int) (int64, error) {
	m.markExpiredCalls++
	m.lastBatchSizeGiven = batchSize
	if m.markExpiredErr != nil {
		return 0, m.markExpiredErr
	}
	if m.markExpiredCalls == 1 {
		return m.expiredCount, nil
	}
	return 0, nil
}

func (m *mockSweepRepo) FailOverdueProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	m.failOverdueCalls++
	m.lastOverdueMaxAge = maxAge
	if m.failOverdueErr != nil {
		return 0, m.failOverdueErr
	}
	if m.failOverdueCalls == 1 {
		return m.overdueCount, nil
	}
	return 0, nil
}

func sweeperTestConfig() config.SweeperConfig {
	return config.SweeperConfig{Interval: 10 * time.Millisecond, BatchSize: 100}
}

func TestNewSweeperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:     &mockSweepRepo{},
			Config:   sweeperTestConfig(),
			Deadline: 30 * time.Minute,
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repository is nil", func(t *testing.T) {
		_, err := NewSweeperService(SweeperServiceOptions{
			Config:   sweeperTestConfig(),
			Deadline: 30 * time.Minute,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SweepRepository is required")
	})

	t.Run("returns error when deadline is not positive", func(t *testing.T) {
		_, err := NewSweeperService(SweeperServiceOptions{
			Repo:   &mockSweepRepo{},
			Config: sweeperTestConfig(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline must be positive")
	})
}

func TestSweeperService_Sweep(t *testing.T) {
	ctx := context.Background()

	newSweeper := func(t *testing.T, repo *mockSweepRepo) *SweeperService {
		t.Helper()
		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:     repo,
			Config:   sweeperTestConfig(),
			Deadline: 30 * time.Minute,
		})
		require.NoError(t, err)
		return svc
	}

	t.Run("drains both steps until the backlog is empty", func(t *testing.T) {
		repo := &mockSweepRepo{expiredCount: 5, overdueCount: 2}
		svc := newSweeper(t, repo)

		require.NoError(t, svc.Sweep(ctx))

		// Each step runs once with rows and once more to observe the empty batch.
		assert.Equal(t, 2, repo.markExpiredCalls)
		assert.Equal(t, 2, repo.failOverdueCalls)
		assert.Equal(t, 100, repo.lastBatchSizeGiven)
		assert.Equal(t, 30*time.Minute, repo.lastOverdueMaxAge)
	})

	t.Run("empty backlog is a no-op", func(t *testing.T) {
		repo := &mockSweepRepo{}
		svc := newSweeper(t, repo)

		require.NoError(t, svc.Sweep(ctx))
		assert.Equal(t, 1, repo.markExpiredCalls)
		assert.Equal(t, 1, repo.failOverdueCalls)
	})

	t.Run("expiry step error still runs the overdue step", func(t *testing.T) {
		repo := &mockSweepRepo{markExpiredErr: apperrors.Internal("database unavailable"), overdueCount: 1}
		svc := newSweeper(t, repo)

		err := svc.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mark expired")
		assert.Equal(t, 2, repo.failOverdueCalls)
	})

	t.Run("joins errors from both steps", func(t *testing.T) {
		repo := &mockSweepRepo{
			markExpiredErr: apperrors.Internal("expiry step broke"),
			failOverdueErr: apperrors.Internal("overdue step broke"),
		}
		svc := newSweeper(t, repo)

		err := svc.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expiry step broke")
		assert.Contains(t, err.Error(), "overdue step broke")
	})

	t.Run("cancellation surfaces as context.Canceled", func(t *testing.T) {
		repo := &mockSweepRepo{markExpiredErr: context.Canceled, failOverdueErr: context.Canceled}
		svc := newSweeper(t, repo)

		err := svc.Sweep(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSweeperService_Run(t *testing.T) {
	t.Run("stops and returns nil when the context is cancelled", func(t *testing.T) {
		repo := &mockSweepRepo{expiredCount: 1}
		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:     repo,
			Config:   sweeperTestConfig(),
			Deadline: 30 * time.Minute,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		// Let the initial sweep and at least one tick land.
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("sweeper did not stop after cancellation")
		}

		assert.GreaterOrEqual(t, repo.markExpiredCalls, 2)
	})

	t.Run("keeps ticking after a sweep error", func(t *testing.T) {
		repo := &mockSweepRepo{markExpiredErr: apperrors.Internal("database unavailable")}
		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:     repo,
			Config:   sweeperTestConfig(),
			Deadline: 30 * time.Minute,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("sweeper did not stop after cancellation")
		}

		assert.GreaterOrEqual(t, repo.markExpiredCalls, 2)
	})
}
