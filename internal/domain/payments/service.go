package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/ids"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/gateway"
	"github.com/rs/zerolog"
)

// Notifier emits payment-side notifications (invoices, refund outcomes).
// Fire and forget.
type Notifier interface {
	InvoiceIssued(ctx context.Context, payment *Payment)
	RefundProcessed(ctx context.Context, refund *Refund)
}

// RefundAction is an organizer's decision on a pending refund.
type RefundAction string

const (
	RefundApprove RefundAction = "approve"
	RefundReject  RefundAction = "reject"
)

// gatewayCallTimeout bounds synchronous gateway calls. A timeout leaves state
// pending for the reconciliation sweep instead of guessing the outcome.
const gatewayCallTimeout = 15 * time.Second

type Service struct {
	events   events.Repository
	regs     registrations.Repository
	repo     Repository
	refunds  RefundRepository
	webhooks WebhookRepository
	gateways *gateway.Registry
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the service clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	eventRepo events.Repository,
	regRepo registrations.Repository,
	repo Repository,
	refundRepo RefundRepository,
	webhookRepo WebhookRepository,
	gateways *gateway.Registry,
	notifier Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		events:   eventRepo,
		regs:     regRepo,
		repo:     repo,
		refunds:  refundRepo,
		webhooks: webhookRepo,
		gateways: gateways,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate creates (or returns) the gateway payment intent for a
// registration. Idempotent: while a pending payment exists the same intent
// comes back instead of a duplicate.
func (s *Service) Initiate(ctx context.Context, registrationULID, gatewayName string) (*Payment, error) {
	reg, err := s.regs.GetByULID(ctx, registrationULID)
	if err != nil {
		return nil, err
	}
	switch reg.PaymentStatus {
	case registrations.PaymentPaid, registrations.PaymentRefundPending, registrations.PaymentRefunded:
		return nil, ErrAlreadyPaid
	case registrations.PaymentNotRequired:
		return nil, ErrPaymentNotRequired
	}
	if reg.Status.Terminal() {
		return nil, fmt.Errorf("registration %s is %s", reg.ULID, reg.Status)
	}

	if existing, err := s.repo.GetByRegistration(ctx, reg.ULID); err == nil && existing.Status == StatusPending {
		return existing, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	client, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayName)
	}

	event, err := s.events.GetByULID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if !event.IsPaid {
		return nil, ErrPaymentNotRequired
	}

	orderCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()
	order, err := client.CreateOrder(orderCtx, gateway.CreateOrderInput{
		AmountCents: event.AmountCents,
		Currency:    event.Currency,
		Receipt:     reg.RegistrationNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrGatewayFailure, err)
	}

	ulid, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint payment ulid: %w", err)
	}
	payment := &Payment{
		ULID:           ulid,
		RegistrationID: reg.ULID,
		Gateway:        client.Name(),
		OrderID:        order.ID,
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
		Status:         StatusPending,
	}
	if err := s.repo.UpsertIntent(ctx, payment); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("payment", payment.ULID).
		Str("registration", reg.ULID).
		Str("gateway", payment.Gateway).
		Str("order", payment.OrderID).
		Int64("amount_cents", payment.AmountCents).
		Msg("payment intent created")

	return payment, nil
}

// Verify is the client-submitted confirmation path. The proof signature is
// recomputed from the gateway's own fields before any state changes; success
// funnels into the same idempotent completion as the webhook path.
func (s *Service) Verify(ctx context.Context, paymentULID string, proof gateway.Proof) (*Payment, error) {
	payment, err := s.repo.GetByULID(ctx, paymentULID)
	if err != nil {
		return nil, err
	}
	if payment.Status == StatusCompleted {
		return payment, nil // idempotent no-op, not an error to the caller
	}

	client, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}
	if proof.OrderID == "" {
		proof.OrderID = payment.OrderID
	}
	if proof.OrderID != payment.OrderID {
		return nil, ErrSignatureMismatch
	}
	if err := client.VerifyProof(proof); err != nil {
		return nil, ErrSignatureMismatch
	}

	result, err := s.complete(ctx, payment, proof.TransactionID, nil)
	if err != nil {
		return nil, err
	}
	return result.Payment, nil
}

// HandleWebhook is the authoritative confirmation path. Signature first, then
// the shared completion, then the dedup ledger row. The ledger is written only
// after the state change lands: a delivery that fails mid-completion stays
// unrecorded, so the gateway's at-least-once retry gets a full pass instead of
// being swallowed as a replay.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, rawBody []byte, signatureHeader string) error {
	client, err := s.gateways.Get(gatewayName)
	if err != nil {
		return err
	}
	if err := client.VerifyWebhook(rawBody, signatureHeader); err != nil {
		return ErrSignatureMismatch
	}

	event, err := client.ParseWebhook(rawBody)
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)
	if event.Kind == gateway.EventIgnored {
		logger.Debug().Str("gateway", gatewayName).Str("event", event.EventID).Msg("webhook ignored")
		return nil
	}

	payment, err := s.repo.GetByOrderID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	switch event.Kind {
	case gateway.EventPaymentFailed:
		// The user may retry; the registration's payment status stays
		// pending rather than cancelling the registration outright.
		if err := s.repo.MarkFailed(ctx, payment.OrderID, event.Raw); err != nil {
			return err
		}
		logger.Warn().
			Str("payment", payment.ULID).
			Str("order", payment.OrderID).
			Msg("gateway reported payment failure")
	case gateway.EventPaymentCompleted:
		if _, err := s.complete(ctx, payment, event.TransactionID, event.Raw); err != nil {
			return err
		}
	}

	// Completion is conditional on payment status, so a delivery recorded
	// here replays harmlessly if the gateway sends it again anyway.
	fresh, err := s.webhooks.Record(ctx, gatewayName, event.EventID, event.Raw)
	if err != nil {
		return fmt.Errorf("record webhook: %w", err)
	}
	if !fresh {
		logger.Info().Str("gateway", gatewayName).Str("event", event.EventID).Msg("webhook redelivered after processing")
	}
	return nil
}

// complete is the single idempotent consumer both confirmation paths feed,
// keyed by the gateway transaction id. It prepares a refund seed up front so
// the storage transaction can route a completion that lands on an
// already-terminal registration straight into refund-pending.
func (s *Service) complete(ctx context.Context, payment *Payment, transactionID string, raw []byte) (*CompleteResult, error) {
	seed, err := s.terminalRefundSeed(ctx, payment)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.Complete(ctx, CompleteParams{
		OrderID:         payment.OrderID,
		TransactionID:   transactionID,
		PaidAt:          s.now(),
		GatewayResponse: raw,
		TerminalRefund:  seed,
	})
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	if result.Replay {
		logger.Info().
			Str("payment", result.Payment.ULID).
			Str("transaction", transactionID).
			Msg("payment completion replayed, no-op")
		return result, nil
	}

	logger.Info().
		Str("payment", result.Payment.ULID).
		Str("registration", result.Payment.RegistrationID).
		Str("transaction", transactionID).
		Bool("refund_seeded", result.RefundSeeded).
		Msg("payment completed")

	if !result.RefundSeeded && s.notifier != nil {
		s.notifier.InvoiceIssued(ctx, result.Payment)
	}
	return result, nil
}

// terminalRefundSeed snapshots the refund policy in case the completion finds
// a terminal registration. Unused when the registration is still active.
func (s *Service) terminalRefundSeed(ctx context.Context, payment *Payment) (*registrations.RefundSeed, error) {
	reg, err := s.regs.GetByULID(ctx, payment.RegistrationID)
	if err != nil {
		return nil, err
	}
	event, err := s.events.GetByULID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	ulid, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint refund ulid: %w", err)
	}
	return &registrations.RefundSeed{
		ULID:       ulid,
		Percentage: event.RefundPolicy.PercentageAt(s.now(), event.StartsAt),
	}, nil
}

// ProcessRefund applies an organizer's decision to a refund. Approval is
// resumable: a gateway failure marks the refund failed, and re-invoking with
// the same refund id retries under the unchanged idempotency key, so the
// gateway can never double-refund.
func (s *Service) ProcessRefund(ctx context.Context, refundULID string, action RefundAction, actor registrations.Actor) (*Refund, error) {
	if !actor.Privileged() {
		return nil, registrations.ErrForbidden
	}

	refund, err := s.refunds.GetByULID(ctx, refundULID)
	if err != nil {
		return nil, err
	}

	switch action {
	case RefundReject:
		if refund.Status != RefundPending {
			return nil, ErrAlreadyProcessed
		}
		if err := s.refunds.Reject(ctx, refund.ULID, actor.ID, s.now()); err != nil {
			return nil, err
		}
	case RefundApprove:
		// Failed refunds stay approvable: re-processing resumes the gateway
		// call with the same idempotency key.
		if refund.Status != RefundPending && refund.Status != RefundFailed {
			return nil, ErrAlreadyProcessed
		}
		if err := s.approveRefund(ctx, refund, actor.ID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown refund action %q", action)
	}

	updated, err := s.refunds.GetByULID(ctx, refundULID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.RefundProcessed(ctx, updated)
	}
	return updated, nil
}

func (s *Service) approveRefund(ctx context.Context, refund *Refund, actorID string) error {
	payment, err := s.repo.GetByULID(ctx, refund.PaymentID)
	if err != nil {
		return err
	}
	if payment.TransactionID == nil {
		return fmt.Errorf("payment %s has no gateway transaction to refund", payment.ULID)
	}

	client, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return err
	}

	amount := refund.Amount()

	refundCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()
	result, err := client.Refund(refundCtx, gateway.RefundInput{
		TransactionID:  *payment.TransactionID,
		AmountCents:    amount,
		IdempotencyKey: refund.ULID,
	})
	if err != nil {
		if markErr := s.refunds.MarkFailed(ctx, refund.ULID, err.Error()); markErr != nil {
			return fmt.Errorf("mark refund failed after gateway error %v: %w", err, markErr)
		}
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("refund", refund.ULID).
			Str("payment", payment.ULID).
			Msg("gateway refund failed, retryable")
		return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	if err := s.refunds.MarkCompleted(ctx, CompleteRefundParams{
		ULID:            refund.ULID,
		GatewayRefundID: result.RefundID,
		AmountCents:     amount,
		ProcessedBy:     actorID,
		ProcessedAt:     s.now(),
	}); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("refund", refund.ULID).
		Str("gateway_refund", result.RefundID).
		Int64("amount_cents", amount).
		Msg("refund completed")
	return nil
}

func (s *Service) GetPayment(ctx context.Context, paymentULID string) (*Payment, error) {
	return s.repo.GetByULID(ctx, paymentULID)
}

func (s *Service) GetRefund(ctx context.Context, refundULID string) (*Refund, error) {
	return s.refunds.GetByULID(ctx, refundULID)
}

// RetryFailedRefunds re-drives failed refunds under their original
// idempotency keys. Called by the background retry worker.
func (s *Service) RetryFailedRefunds(ctx context.Context, maxAttempts, limit int) (int, error) {
	refunds, err := s.refunds.ListRetryable(ctx, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	retried := 0
	for i := range refunds {
		refund := &refunds[i]
		actorID := "system"
		if refund.ProcessedBy != nil {
			actorID = *refund.ProcessedBy
		}
		if err := s.approveRefund(ctx, refund, actorID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("refund", refund.ULID).Msg("refund retry failed")
			continue
		}
		retried++
	}
	return retried, nil
}

// ReconcileStalePayments is the sweep for payments stuck pending past the
// cutoff (e.g. a gateway call that timed out before we learned the outcome).
// It only reports; the authoritative state change still arrives via webhook
// or manual resolution.
func (s *Service) ReconcileStalePayments(ctx context.Context, olderThan time.Duration, limit int) ([]Payment, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	for i := range stale {
		zerolog.Ctx(ctx).Warn().
			Str("payment", stale[i].ULID).
			Str("order", stale[i].OrderID).
			Time("created_at", stale[i].CreatedAt).
			Msg("payment pending past reconciliation cutoff")
	}
	return stale, nil
}
