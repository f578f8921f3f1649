package model

import (
	"errors"
	"strings"
	"time"
)

// VerificationAttempt is one entry in the append-only identity check log.
// Rows are never mutated or deleted outside the sweep path.
type VerificationAttempt struct {
	ID         string    `json:"id"          db:"id"`
	JobID      string    `json:"job_id"      db:"job_id"`
	SourceAddr string    `json:"source_addr" db:"source_addr"`
	Success    bool      `json:"success"     db:"success"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// VerifyRequest carries one inbound verification attempt.
type VerifyRequest struct {
	JobID        string `json:"jobId"`
	ClaimedPhone string `json:"claimedIdentifier"`
	SourceAddr   string `json:"sourceAddress"`
}

// Validate validates the VerifyRequest fields.
func (r *VerifyRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(r.ClaimedPhone) == "" {
		return errors.New("claimed identifier is required")
	}
	if strings.TrimSpace(r.SourceAddr) == "" {
		return errors.New("source address is required")
	}
	return nil
}

// VerifyResult is the caller-facing outcome of a verification attempt.
// RemainingAttempts is populated on non-throttled failures.
type VerifyResult struct {
	Verified          bool   `json:"verified"`
	AccessToken       string `json:"accessToken,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
}

// NormalizePhone canonicalizes an identifier for comparison: lower-cased,
// with whitespace, dashes, and dots stripped. Comparison of stored and
// claimed identifiers always goes through this.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
