package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tbeaudouin05/sitterhub-billing/api/metrics"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret string
	svc    app.Service
	log    *slog.Logger
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, svc app.Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, svc: svc, log: logger}
}

// ServeHTTP verifies the Stripe signature before decoding anything, then dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusUnauthorized
		writeJSON(w, status, errorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warn("Stripe webhook signature rejected", "err", err)
		status = http.StatusUnauthorized
		writeJSON(w, status, errorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	parsed, err := app.ParseEvent(event)
	if err != nil {
		h.log.Warn("Stripe webhook rejected", "event_id", event.ID, "type", eventType, "err", err)
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "invalid event payload"})
		return
	}

	if err := h.svc.HandleEvent(r.Context(), parsed); err != nil {
		h.log.Error("Stripe webhook processing failed", "event_id", event.ID, "type", eventType, "err", err)
		status = http.StatusInternalServerError
		if errors.Is(err, app.ErrBadEvent) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}
