package handler

import (
	"errors"
	"io"
	"net/http"

	"skytrack/internal/metrics"
	"skytrack/internal/service"

	"github.com/rs/zerolog"
)

// maxWebhookBody matches Stripe's documented payload ceiling.
const maxWebhookBody = 65536

// WebhookHandler receives Stripe events. It is a plain handler because the
// signature covers the raw body bytes.
type WebhookHandler struct {
	stripe *service.StripeService
	logger zerolog.Logger
}

func NewWebhookHandler(stripe *service.StripeService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{stripe: stripe, logger: logger.With().Str("handler", "StripeWebhook").Logger()}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	event, err := h.stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		h.logger.Warn().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	h.logger.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	if err := h.stripe.HandleEvent(r.Context(), event); err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
