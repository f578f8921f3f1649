// Package httpx provides HTTP handlers and utilities for the lumiscan job API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	"github.com/lumiscan/lumiscan-api/internal/service"
)

// JobHandlers provides HTTP handlers for job lifecycle operations.
type JobHandlers struct {
	Svc        *service.JobService
	Generation *service.GenerationService
}

// CreateJob handles HTTP requests to create a new job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// GetJob handles HTTP requests to fetch a job by id.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

type setPhoneRequest struct {
	Phone string `json:"phone"`
}

// SetPhone handles HTTP requests to record the customer phone number.
func (h *JobHandlers) SetPhone(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	var req setPhoneRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.SetPhone(r.Context(), jobID, req.Phone)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

type uploadRequest struct {
	ArtifactKey string `json:"artifactKey"`
}

// Upload handles HTTP requests that register the uploaded source artifact
// and kick off generation.
func (h *JobHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	var req uploadRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Generation.StartGeneration(r.Context(), jobID, req.ArtifactKey)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// ListAttempts handles HTTP requests to list a job's generation attempts.
func (h *JobHandlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireJobID(w, r)
	if !ok {
		return
	}

	attempts, err := h.Generation.ListAttempts(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, attempts)
}

func requireJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return "", false
	}
	return jobID, true
}
