package httpx

import (
	"log/slog"
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs         *service.JobService
	Generation   *service.GenerationService
	Verification *service.VerificationService
	Reports      *service.ReportService
	Payments     *service.PaymentService
	// AdminKey gates the operator routes. Empty leaves them unrouted.
	AdminKey string
	Logger   *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs, Generation: services.Generation}
	callbackHandlers := &CallbackHandlers{Generation: services.Generation, Payments: services.Payments}
	verificationHandlers := &VerificationHandlers{Svc: services.Verification}
	reportHandlers := &ReportHandlers{Reports: services.Reports, Verification: services.Verification}

	registerJobRoutes(mux, jobHandlers)
	registerCallbackRoutes(mux, callbackHandlers)
	mux.Handle("POST /api/jobs/{id}/verify", http.HandlerFunc(verificationHandlers.Verify))
	mux.Handle("GET /api/jobs/{id}/report", http.HandlerFunc(reportHandlers.GetReport))
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.AdminKey != "" {
		adminHandlers := &AdminHandlers{Jobs: services.Jobs, Verification: services.Verification}
		registerAdminRoutes(mux, adminHandlers, services.AdminKey)
	}

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return Logging(logger)(Recover(logger)(mux))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.Handle("POST /api/jobs", http.HandlerFunc(h.CreateJob))
	mux.Handle("GET /api/jobs/{id}", http.HandlerFunc(h.GetJob))
	mux.Handle("POST /api/jobs/{id}/phone", http.HandlerFunc(h.SetPhone))
	mux.Handle("POST /api/jobs/{id}/upload", http.HandlerFunc(h.Upload))
	mux.Handle("GET /api/jobs/{id}/attempts", http.HandlerFunc(h.ListAttempts))
}

func registerCallbackRoutes(mux *http.ServeMux, h *CallbackHandlers) {
	mux.Handle("POST /api/callbacks/generation", http.HandlerFunc(h.GenerationCallback))
	mux.Handle("POST /api/webhooks/payment", http.HandlerFunc(h.PaymentWebhook))
}

func registerAdminRoutes(mux *http.ServeMux, h *AdminHandlers, key string) {
	guard := RequireAdminKey(key)
	mux.Handle("POST /api/admin/jobs/{id}/recover", guard(http.HandlerFunc(h.RecoverJob)))
	mux.Handle("POST /api/admin/jobs/{id}/reset-lockout", guard(http.HandlerFunc(h.ResetLockout)))
	mux.Handle("GET /api/admin/stats", guard(http.HandlerFunc(h.Stats)))
}
