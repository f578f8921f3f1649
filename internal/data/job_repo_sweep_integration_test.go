package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/testutil"
)

func TestJobRepo_MarkExpired_SecondSweepWritesNothing(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		jobs := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		var expired []*model.Job
		for i := 0; i < 3; i++ {
			job, err := jobs.Create(ctx, &model.CreateJobRequest{AmountCents: 2999, TTL: time.Minute})
			require.NoError(t, err)
			expired = append(expired, job)
		}
		fresh, err := jobs.Create(ctx, &model.CreateJobRequest{AmountCents: 2999, TTL: 24 * time.Hour})
		require.NoError(t, err)

		clock.AddTime(2 * time.Minute)

		marked, err := jobs.MarkExpired(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, int64(3), marked)

		// The backlog is gone, so a rerun matches nothing.
		marked, err = jobs.MarkExpired(ctx, 100)
		require.NoError(t, err)
		require.Zero(t, marked)

		for _, job := range expired {
			_, err := jobs.GetByID(ctx, job.ID)
			require.True(t, apperrors.IsNotFound(err))
		}
		got, err := jobs.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		require.Equal(t, model.JobStatePendingPayment, got.State)
	})
}

func TestJobRepo_MarkExpired_RespectsBatchSize(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		jobs := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		for i := 0; i < 5; i++ {
			_, err := jobs.Create(ctx, &model.CreateJobRequest{AmountCents: 2999, TTL: time.Minute})
			require.NoError(t, err)
		}
		clock.AddTime(2 * time.Minute)

		marked, err := jobs.MarkExpired(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, int64(2), marked)

		marked, err = jobs.MarkExpired(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, int64(3), marked)
	})
}

func TestJobRepo_SoftDelete_FilteredAccessorsAndRecover(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		jobs := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		job, err := jobs.Create(ctx, &model.CreateJobRequest{AmountCents: 2999, TTL: time.Minute})
		require.NoError(t, err)

		clock.AddTime(2 * time.Minute)
		marked, err := jobs.MarkExpired(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, int64(1), marked)

		// Every filtered accessor hides the swept job.
		_, err = jobs.GetByID(ctx, job.ID)
		require.True(t, apperrors.IsNotFound(err))
		_, err = jobs.GetByCorrelationToken(ctx, job.CorrelationToken)
		require.True(t, apperrors.IsNotFound(err))
		_, err = jobs.Transition(ctx, core.TransitionParams{
			JobID: job.ID,
			From:  model.JobStatePendingPayment,
			To:    model.JobStatePendingPhone,
		})
		require.True(t, apperrors.IsNotFound(err))

		// The unfiltered accessor still sees it, marker set.
		raw, err := jobs.GetAnyByID(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, raw.Deleted())
		require.Equal(t, model.JobStateExpired, raw.State)

		recovered, err := jobs.Recover(ctx, job.ID)
		require.NoError(t, err)
		require.False(t, recovered.Deleted())

		got, err := jobs.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, job.ID, got.ID)

		// Recovering a visible job is a conflict.
		_, err = jobs.Recover(ctx, job.ID)
		require.True(t, apperrors.IsConflict(err))
	})
}

func TestJobRepo_FailOverdueProcessing_IsIdempotent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		jobs := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		job := createProcessingJob(t, jobs)

		clock.AddTime(time.Hour)

		failed, err := jobs.FailOverdueProcessing(ctx, 30*time.Minute, 100)
		require.NoError(t, err)
		require.Equal(t, int64(1), failed)

		got, err := jobs.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, model.JobStateFailed, got.State)
		require.NotNil(t, got.FailureCause)
		require.Equal(t, "timed out waiting for generation", *got.FailureCause)

		// Already-failed jobs never match again.
		failed, err = jobs.FailOverdueProcessing(ctx, 30*time.Minute, 100)
		require.NoError(t, err)
		require.Zero(t, failed)
	})
}
