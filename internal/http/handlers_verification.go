package httpx

import (
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	"github.com/lumiscan/lumiscan-api/internal/service"
)

// VerificationHandlers provides HTTP handlers for phone verification.
type VerificationHandlers struct {
	Svc *service.VerificationService
}

type verifyRequest struct {
	ClaimedIdentifier string `json:"claimedIdentifier"`
}

// Verify handles HTTP requests to verify a claimed phone number against a
// job. Failed matches return 200 with verified=false; throttling returns
// 429 through the error renderer.
func (h *VerificationHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.Svc.Verify(r.Context(), &model.VerifyRequest{
		JobID:        jobID,
		ClaimedPhone: req.ClaimedIdentifier,
		SourceAddr:   clientAddr(r),
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
