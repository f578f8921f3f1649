package core

import (
	"context"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/domain/model"
)

// This file contains repository and collaborator interface definitions
// (ports in hexagonal architecture). These interfaces define the contracts
// between the service layer and the data/adapter layers. Service
// implementations should depend on these interfaces, not concrete
// implementations.

// JobRepository defines the interface for job data operations.
// All reads filter on the soft-delete marker; deleted jobs are invisible
// everywhere except GetAnyByID.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByCorrelationToken(ctx context.Context, token string) (*model.Job, error)
	// GetAnyByID bypasses the deleted filter. Admin recovery only.
	GetAnyByID(ctx context.Context, id string) (*model.Job, error)
	// Transition applies one allowed edge as a single-row atomic update,
	// optionally recording a failure cause. Repeating a transition the job
	// already took is a no-op.
	Transition(ctx context.Context, params TransitionParams) (*model.Job, error)
	SetPhone(ctx context.Context, id, phone string) (*model.Job, error)
	// RecordUpload stores the source artifact key and moves the job from
	// pending_upload to processing in one statement.
	RecordUpload(ctx context.Context, id, artifactKey string) (*model.Job, error)
	Recover(ctx context.Context, id string) (*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// TransitionParams groups parameters for JobRepository.Transition.
type TransitionParams struct {
	JobID        string
	From         model.JobState
	To           model.JobState
	FailureCause *string
}

// GenerationRepository defines the interface for generation attempt data.
type GenerationRepository interface {
	// CreatePending inserts a pending attempt for a freshly dispatched
	// request. External request ids are globally unique.
	CreatePending(ctx context.Context, params CreateAttemptParams) (*model.GenerationAttempt, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.GenerationAttempt, error)
	// ResolveCallback records a callback outcome and performs the atomic
	// increment-and-compare under a row lock on the job: exactly one call
	// returns Advanced=true when the distinct success count first reaches
	// the required target, and duplicate external request ids resolve to
	// Duplicate=true with no side effects.
	ResolveCallback(ctx context.Context, params ResolveCallbackParams) (*CallbackResolution, error)
}

// CreateAttemptParams groups parameters for GenerationRepository.CreatePending.
type CreateAttemptParams struct {
	JobID             string
	ExternalRequestID string
	Seed              int64
}

// ResolveCallbackParams groups parameters for GenerationRepository.ResolveCallback.
type ResolveCallbackParams struct {
	JobID             string
	ExternalRequestID string
	Status            model.AttemptStatus
	ArtifactKey       *string
	FailureReason     *string
	// RequiredSuccesses is the distinct-success threshold that advances the job.
	RequiredSuccesses int
}

// CallbackResolution reports what a ResolveCallback call did.
type CallbackResolution struct {
	// Duplicate is true when the external request id was already recorded;
	// nothing was written.
	Duplicate bool
	// Advanced is true when this call moved the job out of processing.
	// At most one resolution per job ever reports it.
	Advanced bool
	// Exhausted is true when a failure made the success target unreachable
	// and the job was failed.
	Exhausted bool
	// SucceededCount is the distinct succeeded attempt count after this call.
	SucceededCount int
}

// VerificationRepository defines the interface for the verification attempt log.
type VerificationRepository interface {
	// Append inserts one attempt row. The log is append-only.
	Append(ctx context.Context, params AppendAttemptParams) (*model.VerificationAttempt, error)
	// CountFailures returns the lifetime failure count for a job.
	CountFailures(ctx context.Context, jobID string) (int, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.VerificationAttempt, error)
}

// AppendAttemptParams groups parameters for VerificationRepository.Append.
type AppendAttemptParams struct {
	JobID      string
	SourceAddr string
	Success    bool
}

// RateWindow counts failures over a rolling time window keyed by
// (job, source address). Counting is approximate by design.
type RateWindow interface {
	// Incr bumps the window counter and returns the new count.
	Incr(ctx context.Context, jobID, sourceAddr string, window time.Duration) (int, error)
	// Count returns the current window counter without modifying it.
	Count(ctx context.Context, jobID, sourceAddr string) (int, error)
	// Reset clears the window counter. Admin lockout reset only.
	Reset(ctx context.Context, jobID, sourceAddr string) error
}

// KnowledgeRepository defines the interface for knowledge corpus queries.
type KnowledgeRepository interface {
	// Search runs a keyword/substring search over one item kind.
	Search(ctx context.Context, params KnowledgeSearchParams) ([]*model.KnowledgeItem, error)
	GetByID(ctx context.Context, id string) (*model.KnowledgeItem, error)
}

// KnowledgeSearchParams groups parameters for KnowledgeRepository.Search.
type KnowledgeSearchParams struct {
	Kind    model.KnowledgeKind
	Keyword string
	Limit   int
}

// ReportRepository defines the interface for report persistence.
type ReportRepository interface {
	// Create inserts the report with its ordered match rows and completes
	// the job in one transaction. A second report for the same job is a
	// conflict.
	Create(ctx context.Context, params CreateReportParams) (*model.Report, error)
	GetByJobID(ctx context.Context, jobID string) (*model.Report, error)
}

// CreateReportParams groups parameters for ReportRepository.Create.
type CreateReportParams struct {
	JobID            string
	AnalysisSummary  string
	ImprovementAreas []string
	Matches          []model.MatchResult
}

// PaymentRepository defines the interface for payment confirmation intake.
type PaymentRepository interface {
	// Confirm inserts the payment row and advances the job from
	// pending_payment in one transaction. Duplicate merchant references
	// resolve to AlreadyConfirmed=true with no writes.
	Confirm(ctx context.Context, conf *model.PaymentConfirmation) (*PaymentOutcome, error)
	GetByMerchantReference(ctx context.Context, ref string) (*model.Payment, error)
}

// PaymentOutcome reports what a Confirm call did.
type PaymentOutcome struct {
	Payment          *model.Payment
	AlreadyConfirmed bool
}

// SweepRepository defines the interface for expiration sweep batches.
type SweepRepository interface {
	// MarkExpired sets the deletion marker on jobs past expiry, up to
	// batchSize rows, and returns the number of rows marked.
	MarkExpired(ctx context.Context, batchSize int) (int64, error)
	// FailOverdueProcessing fails jobs stuck in processing or analyzing
	// longer than maxAge, up to batchSize rows.
	FailOverdueProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// GenerationProvider dispatches an image-generation request to the external
// provider. The call is fire-and-forget; completion arrives as a callback.
type GenerationProvider interface {
	Dispatch(ctx context.Context, req DispatchRequest) (externalRequestID string, err error)
}

// DispatchRequest groups parameters for GenerationProvider.Dispatch.
type DispatchRequest struct {
	SourceArtifact string
	Seed           int64
	CallbackRef    string
}

// AnalysisProvider turns a job's source and generated artifacts into an
// analysis summary with improvement areas.
type AnalysisProvider interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error)
}

// AnalyzeRequest groups parameters for AnalysisProvider.Analyze.
type AnalyzeRequest struct {
	SourceArtifact string
	ArtifactKeys   []string
}

// AnalysisResult is the outcome of an analysis call.
type AnalysisResult struct {
	Summary string
	Areas   []model.ImprovementArea
}

// RelevanceScorer scores one knowledge item against an improvement-area
// context. Implementations may call a language model or apply a
// deterministic heuristic.
type RelevanceScorer interface {
	Score(ctx context.Context, params ScoreParams) (ScoreResult, error)
}

// ScoreParams groups parameters for RelevanceScorer.Score.
type ScoreParams struct {
	Item        *model.KnowledgeItem
	Label       string
	Observation string
}

// ScoreResult is one scored candidate.
type ScoreResult struct {
	Score     float64
	Rationale string
}

// NotificationDispatcher sends a templated message to a destination.
// Retry policy is owned by the implementation, not by callers.
type NotificationDispatcher interface {
	Send(ctx context.Context, destination, text string) (deliveryID string, err error)
}
