package model

import (
	"errors"
	"strings"
	"time"
)

// AttemptStatus represents the status of a single generation attempt.
type AttemptStatus string

const (
	// AttemptStatusPending indicates the request was dispatched and no callback arrived yet.
	AttemptStatusPending AttemptStatus = "pending"
	// AttemptStatusSucceeded indicates the provider returned an artifact.
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	// AttemptStatusFailed indicates the provider reported failure or the dispatch gave up.
	AttemptStatusFailed AttemptStatus = "failed"
)

// Valid returns true if the AttemptStatus is valid.
func (s AttemptStatus) Valid() bool {
	return s == AttemptStatusPending || s == AttemptStatusSucceeded || s == AttemptStatusFailed
}

// RequiredArtifacts is the number of succeeded generation attempts that
// advances a job out of processing. Counted over distinct external request
// ids only.
const RequiredArtifacts = 3

// GenerationAttempt represents one outbound generation request and its outcome.
type GenerationAttempt struct {
	ID                string        `json:"id"                       db:"id"`
	JobID             string        `json:"job_id"                   db:"job_id"`
	ExternalRequestID string        `json:"external_request_id"      db:"external_request_id"`
	Seed              int64         `json:"seed"                     db:"seed"`
	Status            AttemptStatus `json:"status"                   db:"status"`
	ArtifactKey       *string       `json:"artifact_key,omitempty"   db:"artifact_key"`
	FailureReason     *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ArrivedAt         *time.Time    `json:"arrived_at,omitempty"     db:"arrived_at"`
	CreatedAt         time.Time     `json:"created_at"               db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"               db:"updated_at"`
}

// CallbackStatus is the provider-reported outcome carried on a callback.
type CallbackStatus string

const (
	// CallbackStatusSucceeded indicates the provider produced an artifact.
	CallbackStatusSucceeded CallbackStatus = "succeeded"
	// CallbackStatusFailed indicates the provider gave up on the request.
	CallbackStatusFailed CallbackStatus = "failed"
)

// EchoedInput is the original dispatch payload the provider echoes back.
// The provider does not carry an application-level job id; the correlation
// token is the only way back to the job.
type EchoedInput struct {
	CorrelationToken string `json:"correlationToken"`
	Seed             int64  `json:"seed"`
}

// GenerationCallback is the provider's asynchronous completion notification.
// Delivery is at-least-once; duplicates and reordering are expected.
type GenerationCallback struct {
	ExternalRequestID string         `json:"externalRequestId"`
	Status            CallbackStatus `json:"status"`
	ArtifactKey       *string        `json:"artifactReference,omitempty"`
	FailureReason     *string        `json:"failureReason,omitempty"`
	EchoedInput       EchoedInput    `json:"echoedInput"`
}

// Validate validates the GenerationCallback fields.
func (c *GenerationCallback) Validate() error {
	if strings.TrimSpace(c.ExternalRequestID) == "" {
		return errors.New("external request id is required")
	}
	if c.Status != CallbackStatusSucceeded && c.Status != CallbackStatusFailed {
		return errors.New("status must be succeeded or failed")
	}
	if strings.TrimSpace(c.EchoedInput.CorrelationToken) == "" {
		return errors.New("correlation token is required")
	}
	if c.Status == CallbackStatusSucceeded && (c.ArtifactKey == nil || strings.TrimSpace(*c.ArtifactKey) == "") {
		return errors.New("artifact reference is required on success")
	}
	return nil
}
