package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/service"
)

// AdminHandlers provides HTTP handlers for operator actions.
type AdminHandlers struct {
	Jobs         *service.JobService
	Verification *service.VerificationService
}

// RecoverJob handles HTTP requests to restore a soft-deleted job.
func (h *AdminHandlers) RecoverJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	job, err := h.Jobs.Recover(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

type resetLockoutRequest struct {
	SourceAddress string `json:"sourceAddress"`
}

// ResetLockout handles HTTP requests to clear a verification rate window.
func (h *AdminHandlers) ResetLockout(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	var req resetLockoutRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.SourceAddress == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("source address is required"),
		})
		return
	}

	if err := h.Verification.ResetLockout(r.Context(), jobID, req.SourceAddress); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Stats handles HTTP requests for per-state job counts.
func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// RequireAdminKey returns a middleware that gates admin routes behind a
// shared key supplied in the X-Admin-Key header.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("admin key is required"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
