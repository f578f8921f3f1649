package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allStates := []JobState{
		JobStatePendingPayment, JobStatePendingPhone, JobStatePendingUpload,
		JobStateProcessing, JobStateAnalyzing, JobStateCompleted, JobStateFailed, JobStateExpired,
	}

	allowed := map[JobState][]JobState{
		JobStatePendingPayment: {JobStatePendingPhone, JobStateExpired},
		JobStatePendingPhone:   {JobStatePendingUpload, JobStateExpired},
		JobStatePendingUpload:  {JobStateProcessing, JobStateExpired},
		JobStateProcessing:     {JobStateAnalyzing, JobStateFailed, JobStateExpired},
		JobStateAnalyzing:      {JobStateCompleted, JobStateFailed, JobStateExpired},
		JobStateCompleted:      {JobStateExpired},
		JobStateFailed:         {JobStateExpired},
		JobStateExpired:        {},
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "edge %s -> %s", from, to)
		}
	}
}

func TestJobState_Terminal(t *testing.T) {
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateExpired.Terminal())
	assert.False(t, JobStateProcessing.Terminal())
	assert.False(t, JobStateAnalyzing.Terminal())
	assert.False(t, JobStatePendingPayment.Terminal())
}

func TestJob_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{ExpiresAt: now.Add(24 * time.Hour)}

	assert.False(t, job.Expired(now))
	assert.False(t, job.Expired(now.Add(24*time.Hour)))
	assert.True(t, job.Expired(now.Add(24*time.Hour+time.Second)))
}

func TestCreateJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{name: "valid", req: CreateJobRequest{AmountCents: 4900}},
		{name: "valid with ttl", req: CreateJobRequest{AmountCents: 4900, TTL: time.Hour}},
		{name: "zero amount", req: CreateJobRequest{}, wantErr: "amount must be positive"},
		{name: "negative amount", req: CreateJobRequest{AmountCents: -1}, wantErr: "amount must be positive"},
		{name: "negative ttl", req: CreateJobRequest{AmountCents: 100, TTL: -time.Hour}, wantErr: "ttl must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
