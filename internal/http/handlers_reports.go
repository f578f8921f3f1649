package httpx

import (
	"errors"
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/service"
)

// ReportHandlers provides HTTP handlers for report retrieval.
type ReportHandlers struct {
	Reports      *service.ReportService
	Verification *service.VerificationService
}

// GetReport handles HTTP requests to fetch a job's report. Access requires
// the bearer token issued by phone verification for the same job.
func (h *ReportHandlers) GetReport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	token := bearerToken(r)
	if token == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "token_required",
			Err:     errors.New("bearer token is required"),
		})
		return
	}

	if _, err := h.Verification.ValidateAccessToken(r.Context(), jobID, token); err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "invalid_token",
			Err:     errors.New("access token is invalid or expired"),
		})
		return
	}

	report, err := h.Reports.Get(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}
