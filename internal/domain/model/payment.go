package model

import (
	"errors"
	"strings"
	"time"
)

// PaymentStatus is the provider-reported payment outcome.
type PaymentStatus string

const (
	// PaymentStatusConfirmed indicates the payment settled.
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	// PaymentStatusFailed indicates the payment did not settle.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid returns true if the PaymentStatus is valid.
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusFailed
}

// Payment records one processed confirmation. Merchant references are unique,
// which is what makes duplicate webhook deliveries no-ops.
type Payment struct {
	ID                string        `json:"id"                 db:"id"`
	JobID             string        `json:"job_id"             db:"job_id"`
	MerchantReference string        `json:"merchant_reference" db:"merchant_reference"`
	AmountCents       int64         `json:"amount_cents"       db:"amount_cents"`
	Status            PaymentStatus `json:"status"             db:"status"`
	CreatedAt         time.Time     `json:"created_at"         db:"created_at"`
}

// PaymentConfirmation is the inbound confirmation extracted from a PSP webhook.
type PaymentConfirmation struct {
	JobID             string        `json:"job_id"`
	MerchantReference string        `json:"merchant_reference"`
	AmountCents       int64         `json:"amount_cents"`
	Status            PaymentStatus `json:"status"`
}

// Validate validates the PaymentConfirmation fields.
func (c *PaymentConfirmation) Validate() error {
	if strings.TrimSpace(c.JobID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(c.MerchantReference) == "" {
		return errors.New("merchant reference is required")
	}
	if c.AmountCents <= 0 {
		return errors.New("amount must be positive")
	}
	if !c.Status.Valid() {
		return errors.New("status must be confirmed or failed")
	}
	return nil
}
