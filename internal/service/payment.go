package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// PaymentServiceOptions groups dependencies for PaymentService.
type PaymentServiceOptions struct {
	Repo    core.PaymentRepository // Required: payment repository
	Config  config.PaymentConfig  // Required: webhook field paths
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// PaymentService applies processor confirmations to jobs.
//
// Webhook payload shapes differ per processor, so the fields the intake
// needs are pulled out with configured JMESPath expressions instead of a
// fixed struct.
type PaymentService struct {
	repo    core.PaymentRepository
	config  config.PaymentConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewPaymentService constructs a new PaymentService.
func NewPaymentService(opts PaymentServiceOptions) (*PaymentService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("PaymentRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "payment_service")
	}

	return &PaymentService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// HandleWebhook extracts a confirmation from a raw processor payload and
// applies it. Redelivered webhooks resolve to the original outcome.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte) (*core.PaymentOutcome, error) {
	conf, err := s.ExtractConfirmation(payload)
	if err != nil {
		return nil, err
	}
	return s.Confirm(ctx, conf)
}

// Confirm applies one extracted confirmation.
func (s *PaymentService) Confirm(ctx context.Context, conf *model.PaymentConfirmation) (*core.PaymentOutcome, error) {
	outcome, err := s.repo.Confirm(ctx, conf)
	if err != nil {
		s.emitConfirm("error")
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	if outcome.AlreadyConfirmed {
		s.emitConfirm("duplicate")
		if s.logger != nil {
			s.logger.InfoContext(ctx, "duplicate payment webhook acknowledged",
				"merchant_reference", conf.MerchantReference)
		}
		return outcome, nil
	}

	s.emitConfirm(string(conf.Status))
	return outcome, nil
}

// ExtractConfirmation pulls the confirmation fields out of an arbitrary
// processor payload using the configured JMESPath expressions.
func (s *PaymentService) ExtractConfirmation(payload []byte) (*model.PaymentConfirmation, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed webhook payload")
	}

	jobID, err := s.extractString(doc, s.config.JobIDPath, "job id")
	if err != nil {
		return nil, err
	}
	merchantRef, err := s.extractString(doc, s.config.MerchantReferencePath, "merchant reference")
	if err != nil {
		return nil, err
	}
	status, err := s.extractString(doc, s.config.StatusPath, "status")
	if err != nil {
		return nil, err
	}
	amount, err := s.extractAmount(doc)
	if err != nil {
		return nil, err
	}

	conf := &model.PaymentConfirmation{
		JobID:             jobID,
		MerchantReference: merchantRef,
		AmountCents:       amount,
		Status:            model.PaymentStatusFailed,
	}
	if status == s.config.ConfirmedValue {
		conf.Status = model.PaymentStatusConfirmed
	}
	return conf, nil
}

func (s *PaymentService) extractString(doc any, path, field string) (string, error) {
	value, err := jmespath.Search(path, doc)
	if err != nil {
		return "", apperrors.Validationf("evaluate %s path %q: %v", field, path, err)
	}
	str, ok := value.(string)
	if !ok || str == "" {
		return "", apperrors.Validationf("webhook payload has no %s at %q", field, path)
	}
	return str, nil
}

func (s *PaymentService) extractAmount(doc any) (int64, error) {
	value, err := jmespath.Search(s.config.AmountPath, doc)
	if err != nil {
		return 0, apperrors.Validationf("evaluate amount path %q: %v", s.config.AmountPath, err)
	}
	num, ok := value.(float64)
	if !ok {
		return 0, apperrors.Validationf("webhook payload has no numeric amount at %q", s.config.AmountPath)
	}
	return int64(num), nil
}

func (s *PaymentService) emitConfirm(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("payment.confirmation", 1, map[string]string{"outcome": outcome})
}
