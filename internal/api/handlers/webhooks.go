package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/metrics"
	"github.com/rs/zerolog"
)

type WebhooksHandler struct {
	Service *payments.Service
	Env     string
}

func NewWebhooksHandler(service *payments.Service, env string) *WebhooksHandler {
	return &WebhooksHandler{Service: service, Env: env}
}

// signatureHeader returns the header each gateway signs its deliveries under.
func signatureHeader(r *http.Request, gatewayName string) string {
	switch gatewayName {
	case "razorpay":
		return r.Header.Get("X-Razorpay-Signature")
	case "stripe":
		return r.Header.Get("Stripe-Signature")
	}
	return ""
}

// Handle is the gateway webhook receiver. Signature failures are 400 so the
// gateway stops retrying forged or misconfigured deliveries; replays and
// ignored event kinds are 200 because the gateway already got what it needs.
func (h *WebhooksHandler) Handle(w http.ResponseWriter, r *http.Request) {
	gatewayName := pathParam(r, "gateway")
	if gatewayName == "" {
		problem.Write(w, r, http.StatusNotFound, typeNotFound, "Not found", nil, h.Env)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", err, h.Env)
		return
	}

	err = h.Service.HandleWebhook(r.Context(), gatewayName, body, signatureHeader(r, gatewayName))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrUnknownGateway):
			problem.Write(w, r, http.StatusNotFound, typeNotFound, "Not found", err, h.Env)
		case errors.Is(err, payments.ErrSignatureMismatch):
			metrics.WebhookDeliveries.WithLabelValues(gatewayName, "invalid_signature").Inc()
			problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Signature verification failed", err, h.Env)
		case errors.Is(err, payments.ErrNotFound):
			// An order we never issued. Acknowledge so the gateway does
			// not retry forever.
			zerolog.Ctx(r.Context()).Warn().
				Str("gateway", gatewayName).
				Msg("webhook for unknown order acknowledged")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			metrics.WebhookDeliveries.WithLabelValues(gatewayName, "error").Inc()
			problem.Write(w, r, http.StatusInternalServerError, typeServerError, "Server error", err, h.Env)
		}
		return
	}

	metrics.WebhookDeliveries.WithLabelValues(gatewayName, "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
