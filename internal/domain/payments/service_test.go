package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/entranthq/server/internal/auth"
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/gateway"
	"github.com/stretchr/testify/require"
)

type fakeEventRepo struct {
	events map[string]*events.Event
}

func (f *fakeEventRepo) GetByULID(_ context.Context, ulid string) (*events.Event, error) {
	ev, ok := f.events[ulid]
	if !ok {
		return nil, events.ErrNotFound
	}
	return ev, nil
}

func (f *fakeEventRepo) RepairRoundNumbers(context.Context, string) (int, error) { return 0, nil }

func (f *fakeEventRepo) SetRoundStatus(context.Context, string, int, events.RoundStatus) error {
	return nil
}

type fakeRegRepo struct {
	regs map[string]*registrations.Registration
}

func (f *fakeRegRepo) Claim(context.Context, *registrations.Registration) error { return nil }
func (f *fakeRegRepo) Release(context.Context, string) (bool, error)            { return false, nil }

func (f *fakeRegRepo) GetByULID(_ context.Context, ulid string) (*registrations.Registration, error) {
	reg, ok := f.regs[ulid]
	if !ok {
		return nil, registrations.ErrNotFound
	}
	copied := *reg
	return &copied, nil
}

func (f *fakeRegRepo) Terminate(context.Context, registrations.TerminateParams) error { return nil }

func (f *fakeRegRepo) SetStatus(context.Context, string, registrations.Status, registrations.Status) error {
	return nil
}

func (f *fakeRegRepo) ConfirmFromWaitlist(context.Context, string) error { return nil }

func (f *fakeRegRepo) MoveToWaitlist(context.Context, string) error { return nil }

func (f *fakeRegRepo) SetPaymentStatus(_ context.Context, ulid string, status registrations.PaymentStatus) error {
	if reg, ok := f.regs[ulid]; ok {
		reg.PaymentStatus = status
	}
	return nil
}

func (f *fakeRegRepo) SetCheckedIn(context.Context, string, time.Time) error { return nil }

func (f *fakeRegRepo) ListActiveByTeam(context.Context, string) ([]registrations.Registration, error) {
	return nil, nil
}

func (f *fakeRegRepo) ListByEventAndRound(context.Context, string, int) ([]registrations.Registration, error) {
	return nil, nil
}

func (f *fakeRegRepo) AdvanceToRound(context.Context, string, int) error { return nil }
func (f *fakeRegRepo) Eliminate(context.Context, string, int) error      { return nil }
func (f *fakeRegRepo) CountActive(context.Context, string) (int, error)  { return 0, nil }

// fakePaymentRepo keeps payments in memory keyed by ULID and order id, with
// the same exactly-once Complete contract as the Postgres implementation.
type fakePaymentRepo struct {
	payments    map[string]*Payment // by ULID
	regs        *fakeRegRepo
	completeErr error // next Complete call fails with this
}

func (f *fakePaymentRepo) UpsertIntent(_ context.Context, payment *Payment) error {
	for _, p := range f.payments {
		if p.RegistrationID == payment.RegistrationID {
			if p.Status == StatusCompleted {
				return ErrAlreadyPaid
			}
			p.Gateway = payment.Gateway
			p.OrderID = payment.OrderID
			p.Status = StatusPending
			*payment = *p
			return nil
		}
	}
	stored := *payment
	f.payments[payment.ULID] = &stored
	return nil
}

func (f *fakePaymentRepo) GetByULID(_ context.Context, ulid string) (*Payment, error) {
	p, ok := f.payments[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePaymentRepo) GetByRegistration(_ context.Context, registrationULID string) (*Payment, error) {
	for _, p := range f.payments {
		if p.RegistrationID == registrationULID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakePaymentRepo) GetByOrderID(_ context.Context, orderID string) (*Payment, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakePaymentRepo) Complete(_ context.Context, params CompleteParams) (*CompleteResult, error) {
	if f.completeErr != nil {
		err := f.completeErr
		f.completeErr = nil
		return nil, err
	}
	var payment *Payment
	for _, p := range f.payments {
		if p.OrderID == params.OrderID {
			payment = p
			break
		}
	}
	if payment == nil {
		return nil, ErrNotFound
	}
	if payment.Status == StatusCompleted {
		copied := *payment
		return &CompleteResult{Payment: &copied, Replay: true}, nil
	}
	payment.Status = StatusCompleted
	tx := params.TransactionID
	payment.TransactionID = &tx
	paidAt := params.PaidAt
	payment.PaidAt = &paidAt

	result := &CompleteResult{}
	reg := f.regs.regs[payment.RegistrationID]
	if reg.Status.Terminal() {
		reg.PaymentStatus = registrations.PaymentRefundPending
		result.RefundSeeded = true
	} else {
		reg.PaymentStatus = registrations.PaymentPaid
		if reg.Status == registrations.StatusPending {
			reg.Status = registrations.StatusConfirmed
		}
	}
	result.RegistrationStatus = reg.Status
	copied := *payment
	result.Payment = &copied
	return result, nil
}

func (f *fakePaymentRepo) MarkFailed(_ context.Context, orderID string, _ []byte) error {
	for _, p := range f.payments {
		if p.OrderID == orderID {
			if p.Status != StatusCompleted {
				p.Status = StatusFailed
			}
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakePaymentRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeRefundRepo struct {
	refunds map[string]*Refund
}

func (f *fakeRefundRepo) GetByULID(_ context.Context, ulid string) (*Refund, error) {
	r, ok := f.refunds[ulid]
	if !ok {
		return nil, ErrRefundNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRefundRepo) Reject(_ context.Context, ulid, actorID string, at time.Time) error {
	r, ok := f.refunds[ulid]
	if !ok {
		return ErrRefundNotFound
	}
	if r.Status != RefundPending {
		return ErrAlreadyProcessed
	}
	r.Status = RefundRejected
	r.ProcessedBy = &actorID
	r.ProcessedAt = &at
	return nil
}

func (f *fakeRefundRepo) MarkCompleted(_ context.Context, params CompleteRefundParams) error {
	r, ok := f.refunds[params.ULID]
	if !ok {
		return ErrRefundNotFound
	}
	if r.Status != RefundPending && r.Status != RefundFailed {
		return ErrAlreadyProcessed
	}
	r.Status = RefundCompleted
	r.GatewayRefundID = &params.GatewayRefundID
	r.RefundAmountCents = &params.AmountCents
	r.ProcessedBy = &params.ProcessedBy
	r.ProcessedAt = &params.ProcessedAt
	return nil
}

func (f *fakeRefundRepo) MarkFailed(_ context.Context, ulid, reason string) error {
	r, ok := f.refunds[ulid]
	if !ok {
		return ErrRefundNotFound
	}
	r.Status = RefundFailed
	r.FailureReason = reason
	r.Attempts++
	return nil
}

func (f *fakeRefundRepo) ListRetryable(_ context.Context, maxAttempts, limit int) ([]Refund, error) {
	var out []Refund
	for _, r := range f.refunds {
		if r.Status == RefundFailed && r.Attempts < maxAttempts && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeWebhookRepo struct {
	seen map[string]bool
}

func (f *fakeWebhookRepo) Record(_ context.Context, gatewayName, eventID string, _ []byte) (bool, error) {
	key := gatewayName + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

// fakeGateway scripts gateway behavior per test.
type fakeGateway struct {
	name         string
	orders       int
	proofErr     error
	webhookErr   error
	parsed       *gateway.WebhookEvent
	refundErr    error
	refundCalls  []gateway.RefundInput
	refundResult string
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateOrder(_ context.Context, input gateway.CreateOrderInput) (*gateway.Order, error) {
	g.orders++
	return &gateway.Order{
		ID:          fmt.Sprintf("order_%d", g.orders),
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
	}, nil
}

func (g *fakeGateway) VerifyProof(gateway.Proof) error { return g.proofErr }

func (g *fakeGateway) VerifyWebhook([]byte, string) error { return g.webhookErr }

func (g *fakeGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	ev := *g.parsed
	ev.Raw = payload
	return &ev, nil
}

func (g *fakeGateway) Refund(_ context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	g.refundCalls = append(g.refundCalls, input)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundResult{RefundID: g.refundResult}, nil
}

type paymentFixture struct {
	svc      *Service
	gw       *fakeGateway
	regs     *fakeRegRepo
	payments *fakePaymentRepo
	refunds  *fakeRefundRepo
}

var testClock = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *paymentFixture {
	t.Helper()
	ev := &events.Event{
		ID:                   "ev1",
		ULID:                 "ev1",
		Status:               events.StatusPublished,
		IsPaid:               true,
		AmountCents:          5000,
		Currency:             "INR",
		StartsAt:             testClock.Add(96 * time.Hour),
		RegistrationClosesAt: testClock.Add(48 * time.Hour),
		RefundPolicy:         events.RefundPolicy{{HoursBefore: 72, Percentage: 100}},
	}
	regs := &fakeRegRepo{regs: map[string]*registrations.Registration{
		"reg1": {
			ULID:               "reg1",
			RegistrationNumber: "ENT-2026-000001",
			EventID:            "ev1",
			UserID:             "alice",
			Status:             registrations.StatusPending,
			PaymentStatus:      registrations.PaymentPending,
		},
	}}
	payments := &fakePaymentRepo{payments: map[string]*Payment{}, regs: regs}
	refunds := &fakeRefundRepo{refunds: map[string]*Refund{}}
	gw := &fakeGateway{name: "razorpay", refundResult: "rfnd_1"}
	svc := NewService(
		&fakeEventRepo{events: map[string]*events.Event{"ev1": ev}},
		regs,
		payments,
		refunds,
		&fakeWebhookRepo{seen: map[string]bool{}},
		gateway.NewRegistry(gw),
		nil,
		WithClock(func() time.Time { return testClock }),
	)
	return &paymentFixture{svc: svc, gw: gw, regs: regs, payments: payments, refunds: refunds}
}

func TestInitiateCreatesIntentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)
	require.Equal(t, StatusPending, payment.Status)
	require.Equal(t, int64(5000), payment.AmountCents)
	require.Equal(t, "order_1", payment.OrderID)

	// A second initiate returns the pending intent without a new order.
	again, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)
	require.Equal(t, payment.ULID, again.ULID)
	require.Equal(t, 1, f.gw.orders)
}

func TestInitiateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, "reg1", "paypal")
	require.ErrorIs(t, err, ErrUnknownGateway)

	f.regs.regs["reg1"].PaymentStatus = registrations.PaymentPaid
	_, err = f.svc.Initiate(ctx, "reg1", "razorpay")
	require.ErrorIs(t, err, ErrAlreadyPaid)

	f.regs.regs["reg1"].PaymentStatus = registrations.PaymentNotRequired
	_, err = f.svc.Initiate(ctx, "reg1", "razorpay")
	require.ErrorIs(t, err, ErrPaymentNotRequired)

	_, err = f.svc.Initiate(ctx, "missing", "razorpay")
	require.ErrorIs(t, err, registrations.ErrNotFound)
}

func TestVerifyCompletesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	verified, err := f.svc.Verify(ctx, payment.ULID, gateway.Proof{
		OrderID:       payment.OrderID,
		TransactionID: "pay_123",
		Signature:     "sig",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, verified.Status)
	require.Equal(t, "pay_123", *verified.TransactionID)
	require.Equal(t, registrations.StatusConfirmed, f.regs.regs["reg1"].Status)
	require.Equal(t, registrations.PaymentPaid, f.regs.regs["reg1"].PaymentStatus)

	// Replay is an idempotent success.
	again, err := f.svc.Verify(ctx, payment.ULID, gateway.Proof{TransactionID: "pay_123", Signature: "sig"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Status)
}

func TestVerifyRejectsBadProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	f.gw.proofErr = gateway.ErrInvalidSignature
	_, err = f.svc.Verify(ctx, payment.ULID, gateway.Proof{TransactionID: "pay_123", Signature: "forged"})
	require.ErrorIs(t, err, ErrSignatureMismatch)
	require.Equal(t, registrations.StatusPending, f.regs.regs["reg1"].Status)

	// A proof for a different order never reaches the gateway.
	f.gw.proofErr = nil
	_, err = f.svc.Verify(ctx, payment.ULID, gateway.Proof{OrderID: "order_other", TransactionID: "pay_123"})
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestHandleWebhookCompletedAndDeduped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	f.gw.parsed = &gateway.WebhookEvent{
		EventID:       "evt_1",
		Kind:          gateway.EventPaymentCompleted,
		OrderID:       payment.OrderID,
		TransactionID: "pay_123",
	}
	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
	require.Equal(t, registrations.PaymentPaid, f.regs.regs["reg1"].PaymentStatus)

	// Redelivery of the same event id is swallowed.
	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))

	// Same order under a new event id replays harmlessly through Complete.
	f.gw.parsed.EventID = "evt_2"
	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
}

func TestHandleWebhookRetryAfterFailedCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	f.gw.parsed = &gateway.WebhookEvent{
		EventID:       "evt_1",
		Kind:          gateway.EventPaymentCompleted,
		OrderID:       payment.OrderID,
		TransactionID: "pay_123",
	}

	// The first delivery dies mid-completion. Nothing may be recorded in the
	// dedup ledger, or the gateway's redelivery would be dropped and the
	// payment stuck pending for good.
	f.payments.completeErr = errors.New("connection reset")
	require.Error(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
	require.Equal(t, StatusPending, f.payments.payments[payment.ULID].Status)

	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
	require.Equal(t, StatusCompleted, f.payments.payments[payment.ULID].Status)
	require.Equal(t, registrations.PaymentPaid, f.regs.regs["reg1"].PaymentStatus)
	require.Equal(t, registrations.StatusConfirmed, f.regs.regs["reg1"].Status)
}

func TestHandleWebhookSignatureAndFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	f.gw.webhookErr = gateway.ErrInvalidSignature
	err = f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "bad")
	require.ErrorIs(t, err, ErrSignatureMismatch)

	f.gw.webhookErr = nil
	f.gw.parsed = &gateway.WebhookEvent{
		EventID: "evt_fail",
		Kind:    gateway.EventPaymentFailed,
		OrderID: payment.OrderID,
	}
	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
	require.Equal(t, StatusFailed, f.payments.payments[payment.ULID].Status)
	// Failure keeps the registration retryable, not cancelled.
	require.Equal(t, registrations.StatusPending, f.regs.regs["reg1"].Status)
}

func TestWebhookCompletionAfterCancelSeedsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)

	f.regs.regs["reg1"].Status = registrations.StatusCancelled

	f.gw.parsed = &gateway.WebhookEvent{
		EventID:       "evt_late",
		Kind:          gateway.EventPaymentCompleted,
		OrderID:       payment.OrderID,
		TransactionID: "pay_123",
	}
	require.NoError(t, f.svc.HandleWebhook(ctx, "razorpay", []byte(`{}`), "sig"))
	require.Equal(t, registrations.PaymentRefundPending, f.regs.regs["reg1"].PaymentStatus)
}

func seedRefund(f *paymentFixture, t *testing.T) (*Payment, *Refund) {
	t.Helper()
	ctx := context.Background()
	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)
	verified, err := f.svc.Verify(ctx, payment.ULID, gateway.Proof{TransactionID: "pay_123"})
	require.NoError(t, err)

	refund := &Refund{
		ULID:                "rf1",
		PaymentID:           verified.ULID,
		RegistrationID:      "reg1",
		Status:              RefundPending,
		OriginalAmountCents: 5000,
		RefundPercentage:    50,
	}
	f.refunds.refunds["rf1"] = refund
	return verified, refund
}

func TestProcessRefundApprove(t *testing.T) {
	f := newFixture(t)
	seedRefund(f, t)
	staff := registrations.Actor{ID: "org", Role: auth.RoleOrganizer}

	refund, err := f.svc.ProcessRefund(context.Background(), "rf1", RefundApprove, staff)
	require.NoError(t, err)
	require.Equal(t, RefundCompleted, refund.Status)
	require.Equal(t, int64(2500), *refund.RefundAmountCents)
	require.Equal(t, "rfnd_1", *refund.GatewayRefundID)
	require.Len(t, f.gw.refundCalls, 1)
	require.Equal(t, "rf1", f.gw.refundCalls[0].IdempotencyKey)

	_, err = f.svc.ProcessRefund(context.Background(), "rf1", RefundApprove, staff)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestProcessRefundReject(t *testing.T) {
	f := newFixture(t)
	seedRefund(f, t)
	staff := registrations.Actor{ID: "org", Role: auth.RoleOrganizer}

	refund, err := f.svc.ProcessRefund(context.Background(), "rf1", RefundReject, staff)
	require.NoError(t, err)
	require.Equal(t, RefundRejected, refund.Status)
	require.Empty(t, f.gw.refundCalls)

	_, err = f.svc.ProcessRefund(context.Background(), "rf1", RefundReject, staff)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestProcessRefundForbiddenForParticipants(t *testing.T) {
	f := newFixture(t)
	seedRefund(f, t)

	_, err := f.svc.ProcessRefund(context.Background(), "rf1",
		RefundApprove, registrations.Actor{ID: "alice", Role: auth.RoleParticipant})
	require.ErrorIs(t, err, registrations.ErrForbidden)
}

func TestProcessRefundGatewayFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	seedRefund(f, t)
	staff := registrations.Actor{ID: "org", Role: auth.RoleOrganizer}

	f.gw.refundErr = errors.New("gateway down")
	_, err := f.svc.ProcessRefund(context.Background(), "rf1", RefundApprove, staff)
	require.ErrorIs(t, err, ErrGatewayFailure)
	require.Equal(t, RefundFailed, f.refunds.refunds["rf1"].Status)
	require.Equal(t, 1, f.refunds.refunds["rf1"].Attempts)

	// Re-approval resumes with the same idempotency key.
	f.gw.refundErr = nil
	refund, err := f.svc.ProcessRefund(context.Background(), "rf1", RefundApprove, staff)
	require.NoError(t, err)
	require.Equal(t, RefundCompleted, refund.Status)
	require.Len(t, f.gw.refundCalls, 2)
	require.Equal(t, f.gw.refundCalls[0].IdempotencyKey, f.gw.refundCalls[1].IdempotencyKey)
}

func TestRetryFailedRefunds(t *testing.T) {
	f := newFixture(t)
	seedRefund(f, t)
	staff := registrations.Actor{ID: "org", Role: auth.RoleOrganizer}

	f.gw.refundErr = errors.New("gateway down")
	_, err := f.svc.ProcessRefund(context.Background(), "rf1", RefundApprove, staff)
	require.ErrorIs(t, err, ErrGatewayFailure)

	f.gw.refundErr = nil
	retried, err := f.svc.RetryFailedRefunds(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Equal(t, 1, retried)
	require.Equal(t, RefundCompleted, f.refunds.refunds["rf1"].Status)

	// Exhausted attempt budgets are left alone.
	f.refunds.refunds["rf1"].Status = RefundFailed
	f.refunds.refunds["rf1"].Attempts = 5
	retried, err = f.svc.RetryFailedRefunds(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Zero(t, retried)
}

func TestReconcileStalePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Initiate(ctx, "reg1", "razorpay")
	require.NoError(t, err)
	f.payments.payments[payment.ULID].CreatedAt = testClock.Add(-2 * time.Hour)

	stale, err := f.svc.ReconcileStalePayments(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, payment.ULID, stale[0].ULID)

	stale, err = f.svc.ReconcileStalePayments(ctx, 3*time.Hour, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}
