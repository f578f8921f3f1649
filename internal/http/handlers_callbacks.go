package httpx

import (
	"net/http"

	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	"github.com/lumiscan/lumiscan-api/internal/service"
)

// CallbackHandlers provides HTTP handlers for provider callbacks and
// payment gateway webhooks. Both endpoints acknowledge with 200 whenever
// the delivery was understood, including duplicates, so upstreams stop
// redelivering.
type CallbackHandlers struct {
	Generation *service.GenerationService
	Payments   *service.PaymentService
}

// GenerationCallback handles completion callbacks from the generation
// backend.
func (h *CallbackHandlers) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	var cb model.GenerationCallback
	if !DecodeJSON(w, r, &cb) {
		return
	}

	if err := h.Generation.HandleCallback(r.Context(), &cb); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// PaymentWebhook handles payment confirmation webhooks. The body shape is
// gateway-specific; extraction paths come from configuration.
func (h *CallbackHandlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	outcome, err := h.Payments.HandleWebhook(r.Context(), payload)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	status := "recorded"
	if outcome.AlreadyConfirmed {
		status = "already_confirmed"
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}
