package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/entranthq/server/internal/api/middleware"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/gateway"
	"github.com/entranthq/server/internal/metrics"
)

type PaymentsHandler struct {
	Service *payments.Service
	Env     string
}

func NewPaymentsHandler(service *payments.Service, env string) *PaymentsHandler {
	return &PaymentsHandler{Service: service, Env: env}
}

type initiatePaymentRequest struct {
	RegistrationID string `json:"registration_id" validate:"required"`
	Gateway        string `json:"gateway" validate:"required,oneof=razorpay stripe"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	RegistrationID    string `json:"registration_id"`
	Gateway           string `json:"gateway"`
	OrderID           string `json:"order_id"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	PaidAt            string `json:"paid_at,omitempty"`
	RefundAmountCents *int64 `json:"refund_amount_cents,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func paymentPayload(p *payments.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                p.ULID,
		RegistrationID:    p.RegistrationID,
		Gateway:           p.Gateway,
		OrderID:           p.OrderID,
		AmountCents:       p.AmountCents,
		Currency:          p.Currency,
		Status:            string(p.Status),
		RefundAmountCents: p.RefundAmountCents,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.Format(time.RFC3339)
	}
	return resp
}

// Initiate creates (or refreshes) the gateway order for a registration's
// payment. Re-initiating a pending payment is allowed; a completed one is not.
func (h *PaymentsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	payment, err := h.Service.Initiate(r.Context(), req.RegistrationID, req.Gateway)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusCreated, paymentPayload(payment))
}

type verifyPaymentRequest struct {
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
}

// Verify accepts the client-submitted payment proof. Verification of an
// already-completed payment returns the payment unchanged.
func (h *PaymentsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	payment, err := h.Service.Verify(r.Context(), id, gateway.Proof{
		OrderID:       req.OrderID,
		TransactionID: req.TransactionID,
		Signature:     req.Signature,
	})
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	metrics.PaymentsCompleted.WithLabelValues(payment.Gateway, "verify").Inc()
	writeJSON(w, http.StatusOK, paymentPayload(payment))
}

func (h *PaymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	payment, err := h.Service.GetPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, paymentPayload(payment))
}

type refundResponse struct {
	ID                  string `json:"id"`
	PaymentID           string `json:"payment_id"`
	RegistrationID      string `json:"registration_id"`
	Status              string `json:"status"`
	OriginalAmountCents int64  `json:"original_amount_cents"`
	RefundPercentage    int    `json:"refund_percentage"`
	RefundAmountCents   *int64 `json:"refund_amount_cents,omitempty"`
	GatewayRefundID     *string `json:"gateway_refund_id,omitempty"`
	ProcessedBy         *string `json:"processed_by,omitempty"`
	ProcessedAt         string `json:"processed_at,omitempty"`
	FailureReason       string `json:"failure_reason,omitempty"`
	Attempts            int    `json:"attempts"`
	CreatedAt           string `json:"created_at"`
}

func refundPayload(rf *payments.Refund) refundResponse {
	resp := refundResponse{
		ID:                  rf.ULID,
		PaymentID:           rf.PaymentID,
		RegistrationID:      rf.RegistrationID,
		Status:              string(rf.Status),
		OriginalAmountCents: rf.OriginalAmountCents,
		RefundPercentage:    rf.RefundPercentage,
		RefundAmountCents:   rf.RefundAmountCents,
		GatewayRefundID:     rf.GatewayRefundID,
		ProcessedBy:         rf.ProcessedBy,
		FailureReason:       rf.FailureReason,
		Attempts:            rf.Attempts,
		CreatedAt:           rf.CreatedAt.Format(time.RFC3339),
	}
	if rf.ProcessedAt != nil {
		resp.ProcessedAt = rf.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *PaymentsHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	refund, err := h.Service.GetRefund(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, refundPayload(refund))
}

type processRefundRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

// ProcessRefund applies an organizer decision to a pending refund. Approvals
// that fail at the gateway leave the refund failed and retryable; the whole
// operation is idempotent under the gateway refund key.
func (h *PaymentsHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())

	var req processRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	refund, err := h.Service.ProcessRefund(r.Context(), id, payments.RefundAction(req.Action), actor)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayFailure) {
			metrics.RefundsProcessed.WithLabelValues("failed").Inc()
		}
		writeDomainError(w, r, err, h.Env)
		return
	}

	metrics.RefundsProcessed.WithLabelValues(string(refund.Status)).Inc()
	writeJSON(w, http.StatusOK, refundPayload(refund))
}
