package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
)

// emailWebhook accepts a delivery callback and hands it to the webhook worker.
func (h *Handler) emailWebhook(w http.ResponseWriter, r *http.Request) {
	var event application.WebhookEvent
	if err := decodeBody(r, &event); err != nil {
		writeValidationError(r.Context(), w, "email_webhook", err)
		return
	}
	if err := h.service.EnqueueDeliveryUpdate(r.Context(), chi.URLParam(r, "provider"), event); err != nil {
		writeMappedError(r.Context(), w, "email_webhook", err)
		return
	}
	writeMessage(w, http.StatusAccepted, "accepted")
}
