// Package model defines the core data types and structures used throughout the lumiscan job system.
package model

import (
	"errors"
	"time"
)

// JobState represents the current lifecycle state of a scan job.
type JobState string

const (
	// JobStatePendingPayment indicates the job is waiting for payment confirmation.
	JobStatePendingPayment JobState = "pending_payment"
	// JobStatePendingPhone indicates the job is waiting for phone verification details.
	JobStatePendingPhone JobState = "pending_phone"
	// JobStatePendingUpload indicates the job is waiting for the portrait upload.
	JobStatePendingUpload JobState = "pending_upload"
	// JobStateProcessing indicates generation requests are in flight with the provider.
	JobStateProcessing JobState = "processing"
	// JobStateAnalyzing indicates all artifacts arrived and the report is being assembled.
	JobStateAnalyzing JobState = "analyzing"
	// JobStateCompleted indicates the report was assembled successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job failed permanently.
	JobStateFailed JobState = "failed"
	// JobStateExpired indicates the job passed its expiry and was swept.
	JobStateExpired JobState = "expired"
)

// Valid returns true if the JobState is valid.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePendingPayment, JobStatePendingPhone, JobStatePendingUpload,
		JobStateProcessing, JobStateAnalyzing, JobStateCompleted, JobStateFailed, JobStateExpired:
		return true
	}
	return false
}

// Terminal returns true if no forward progress is possible from the state.
// Expired may still be reached from completed/failed for bookkeeping.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateExpired
}

// allowedEdges is the job lifecycle transition table. A transition not listed
// here is rejected; repeating a transition the job has already taken (current
// state equals target) is treated as an idempotent no-op by callers.
var allowedEdges = map[JobState][]JobState{
	JobStatePendingPayment: {JobStatePendingPhone, JobStateExpired},
	JobStatePendingPhone:   {JobStatePendingUpload, JobStateExpired},
	JobStatePendingUpload:  {JobStateProcessing, JobStateExpired},
	JobStateProcessing:     {JobStateAnalyzing, JobStateFailed, JobStateExpired},
	JobStateAnalyzing:      {JobStateCompleted, JobStateFailed, JobStateExpired},
	JobStateCompleted:      {JobStateExpired},
	JobStateFailed:         {JobStateExpired},
	JobStateExpired:        {},
}

// CanTransition reports whether the edge (from, to) is in the allowed-edge table.
func CanTransition(from, to JobState) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job represents a scan job tracked from payment through report delivery.
type Job struct {
	ID               string     `json:"id"                          db:"id"`
	State            JobState   `json:"state"                       db:"state"`
	CorrelationToken string     `json:"-"                           db:"correlation_token"`
	Phone            *string    `json:"phone,omitempty"             db:"phone"`
	SourceArtifact   *string    `json:"source_artifact,omitempty"   db:"source_artifact"`
	AmountCents      int64      `json:"amount_cents"                db:"amount_cents"`
	FailureCause     *string    `json:"failure_cause,omitempty"     db:"failure_cause"`
	CreatedAt        time.Time  `json:"created_at"                  db:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"                  db:"expires_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"        db:"deleted_at"`
	UpdatedAt        time.Time  `json:"updated_at"                  db:"updated_at"`
}

// Expired reports whether the job is past its expiry at the given instant.
func (j *Job) Expired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// Deleted reports whether the soft-delete marker is set.
func (j *Job) Deleted() bool {
	return j.DeletedAt != nil
}

// CreateJobRequest represents a request to create a new scan job.
type CreateJobRequest struct {
	// AmountCents is the quoted price the payment confirmation must match.
	AmountCents int64 `json:"amount_cents"`
	// TTL is how long the job remains valid after creation. Zero means the
	// configured default. The resulting expiry is immutable.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.AmountCents <= 0 {
		return errors.New("amount must be positive")
	}
	if r.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	return nil
}

// JobStats represents counts of jobs per lifecycle state.
type JobStats struct {
	PendingPayment int `json:"pending_payment"`
	PendingPhone   int `json:"pending_phone"`
	PendingUpload  int `json:"pending_upload"`
	Processing     int `json:"processing"`
	Analyzing      int `json:"analyzing"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Expired        int `json:"expired"`
}
