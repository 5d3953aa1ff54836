package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/metrics"
	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/webhook"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	verifier   *webhook.Verifier
	dispatcher *webhook.Dispatcher
	log        zerolog.Logger
}

func NewWebhookHandler(verifier *webhook.Verifier, dispatcher *webhook.Dispatcher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, dispatcher: dispatcher, log: log}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	receipt := models.NewID("whk")
	log := h.log.With().Str("receipt_id", receipt).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("read webhook body")
		metrics.ObserveWebhook("", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "webhook_verification_failed"})
		return
	}

	ev, err := h.verifier.Verify(body)
	if err != nil {
		// The payload is untrusted, so only its size is logged.
		if errors.Is(err, webhook.ErrMalformedEnvelope) {
			log.Warn().Err(err).Int("body_bytes", len(body)).Msg("signed webhook payload malformed")
			metrics.ObserveWebhook("", "malformed")
		} else {
			log.Warn().Err(err).Int("body_bytes", len(body)).Msg("webhook signature rejected")
			metrics.ObserveWebhook("", "rejected")
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "webhook_verification_failed"})
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), ev); err != nil {
		log.Error().Err(err).Str("event_type", ev.EventType).Str("instance_id", ev.InstanceID).Msg("webhook dispatch failed")
		metrics.ObserveWebhook(ev.EventType, "error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	outcome := "handled"
	if !webhook.Known(ev.EventType) {
		outcome = "ignored"
	}
	metrics.ObserveWebhook(ev.EventType, outcome)
	log.Info().Str("event_type", ev.EventType).Str("instance_id", ev.InstanceID).Msg("webhook received")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
