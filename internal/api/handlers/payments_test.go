package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/entranthq/server/internal/domain/ids"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/stretchr/testify/require"
)

func paidFixture(t *testing.T) (*apiFixture, registrationResponse) {
	t.Helper()
	f := newAPIFixture()
	f.eventRepo.events["ev1"].IsPaid = true
	f.eventRepo.events["ev1"].AmountCents = 5000
	f.eventRepo.events["ev1"].Currency = "INR"
	reg := registerUser(t, NewRegistrationsHandler(f.regService, "test"), "alice")
	return f, reg
}

func initiatePayment(t *testing.T, f *apiFixture, regID string) paymentResponse {
	t.Helper()
	h := NewPaymentsHandler(f.payService, "test")
	actor := participant("alice")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments",
		strings.NewReader(`{"registration_id":"`+regID+`","gateway":"razorpay"}`))
	w := doRequest(h.Initiate, req, &actor, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeBody[paymentResponse](t, w)
}

func TestInitiatePaymentHandler(t *testing.T) {
	f, reg := paidFixture(t)

	payment := initiatePayment(t, f, reg.ID)
	require.Equal(t, "pending", payment.Status)
	require.Equal(t, int64(5000), payment.AmountCents)
	require.Equal(t, "razorpay", payment.Gateway)
}

func TestInitiatePaymentValidation(t *testing.T) {
	f, reg := paidFixture(t)
	h := NewPaymentsHandler(f.payService, "test")
	actor := participant("alice")

	// Gateways outside the enum are rejected before the service runs.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments",
		strings.NewReader(`{"registration_id":"`+reg.ID+`","gateway":"hawala"}`))
	w := doRequest(h.Initiate, req, &actor, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyPaymentHandler(t *testing.T) {
	f, reg := paidFixture(t)
	h := NewPaymentsHandler(f.payService, "test")
	payment := initiatePayment(t, f, reg.ID)
	actor := participant("alice")
	path := map[string]string{"id": payment.ID}

	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"transaction_id":"pay_123","signature":"sig"}`))
	w := doRequest(h.Verify, req, &actor, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "completed", decodeBody[paymentResponse](t, w).Status)

	// A forged proof is a 400 and leaves the payment alone.
	f2, reg2 := paidFixture(t)
	h2 := NewPaymentsHandler(f2.payService, "test")
	payment2 := initiatePayment(t, f2, reg2.ID)
	f2.gw.proofErr = errors.New("bad signature")

	req = httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"transaction_id":"pay_123","signature":"forged"}`))
	w = doRequest(h2.Verify, req, &actor, map[string]string{"id": payment2.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func seedPendingRefund(t *testing.T, f *apiFixture, regID string) refundResponse {
	t.Helper()
	payment := initiatePayment(t, f, regID)
	h := NewPaymentsHandler(f.payService, "test")
	actor := participant("alice")
	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"transaction_id":"pay_123","signature":"sig"}`))
	w := doRequest(h.Verify, req, &actor, map[string]string{"id": payment.ID})
	require.Equal(t, http.StatusOK, w.Code)

	// Cancelling the paid registration seeds the refund row.
	regHandler := NewRegistrationsHandler(f.regService, "test")
	w = doRequest(regHandler.Cancel, httptest.NewRequest(http.MethodDelete, "/", nil), &actor, map[string]string{"id": regID})
	require.Equal(t, http.StatusOK, w.Code)

	// The in-memory Terminate does not materialize refund rows, so place
	// one the way the storage layer would.
	refundULID, err := ids.NewULID()
	require.NoError(t, err)
	refund := &payments.Refund{
		ULID:                refundULID,
		PaymentID:           payment.ID,
		RegistrationID:      regID,
		Status:              payments.RefundPending,
		OriginalAmountCents: 5000,
		RefundPercentage:    100,
	}
	f.refunds.refunds[refund.ULID] = refund
	return refundPayload(refund)
}

func TestProcessRefundHandler(t *testing.T) {
	f, reg := paidFixture(t)
	f.eventRepo.events["ev1"].RefundPolicy = nil
	refund := seedPendingRefund(t, f, reg.ID)
	h := NewPaymentsHandler(f.payService, "test")
	staff := organizer("org")
	path := map[string]string{"id": refund.ID}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve"}`))
	w := doRequest(h.ProcessRefund, req, &staff, path)
	require.Equal(t, http.StatusOK, w.Code)

	processed := decodeBody[refundResponse](t, w)
	require.Equal(t, "completed", processed.Status)
	require.Equal(t, int64(5000), *processed.RefundAmountCents)

	// Re-approving is a conflict.
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve"}`))
	w = doRequest(h.ProcessRefund, req, &staff, path)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestProcessRefundGatewayFailure(t *testing.T) {
	f, reg := paidFixture(t)
	refund := seedPendingRefund(t, f, reg.ID)
	h := NewPaymentsHandler(f.payService, "test")
	staff := organizer("org")
	path := map[string]string{"id": refund.ID}

	f.gw.refundErr = errors.New("gateway down")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"reject-maybe"}`))
	w := doRequest(h.ProcessRefund, req, &staff, path)
	require.Equal(t, http.StatusBadRequest, w.Code) // action outside the enum

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve"}`))
	w = doRequest(h.ProcessRefund, req, &staff, path)
	require.Equal(t, http.StatusBadGateway, w.Code)

	// The refund is failed but retryable.
	f.gw.refundErr = nil
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve"}`))
	w = doRequest(h.ProcessRefund, req, &staff, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "completed", decodeBody[refundResponse](t, w).Status)
}

func TestGetRefundHandler(t *testing.T) {
	f, reg := paidFixture(t)
	refund := seedPendingRefund(t, f, reg.ID)
	h := NewPaymentsHandler(f.payService, "test")
	staff := organizer("org")

	w := doRequest(h.GetRefund, httptest.NewRequest(http.MethodGet, "/", nil), &staff, map[string]string{"id": refund.ID})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "pending", decodeBody[refundResponse](t, w).Status)
}
