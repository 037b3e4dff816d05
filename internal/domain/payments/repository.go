package payments

import (
	"context"
	"time"

	"github.com/entranthq/server/internal/domain/registrations"
)

// CompleteParams drives the single idempotent payment-completion entry point
// shared by the client verify path and the webhook path.
type CompleteParams struct {
	// OrderID locates the payment; TransactionID is the gateway's id for the
	// successful charge and the idempotency key across both paths.
	OrderID         string
	TransactionID   string
	PaidAt          time.Time
	GatewayResponse []byte

	// TerminalRefund is the refund to seed if the registration turns out to
	// be terminal when the completion lands (a payment confirmed after the
	// user cancelled routes straight into refund-pending).
	TerminalRefund *registrations.RefundSeed
}

type CompleteResult struct {
	Payment *Payment
	// Replay is true when the payment was already completed; the call was a
	// no-op.
	Replay bool
	// RegistrationStatus is the registration's status after the completion.
	RegistrationStatus registrations.Status
	// RefundSeeded is true when the completion found a terminal registration
	// and created a pending refund instead of confirming it.
	RefundSeeded bool
}

// Repository persists payments. Complete must be a single transaction: the
// status check, the completed flip, and the registration update can never be
// interleaved by a concurrent webhook delivery.
type Repository interface {
	// UpsertIntent creates the payment row for a registration, or refreshes
	// the order on an existing non-completed row (a user retrying after a
	// failed attempt). Returns ErrAlreadyPaid when the payment is completed.
	UpsertIntent(ctx context.Context, payment *Payment) error

	GetByULID(ctx context.Context, ulid string) (*Payment, error)
	GetByRegistration(ctx context.Context, registrationULID string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)

	// Complete flips the payment to completed exactly once. A replayed
	// transaction id returns Replay=true without touching state.
	Complete(ctx context.Context, params CompleteParams) (*CompleteResult, error)

	// MarkFailed records a gateway failure event. The registration's payment
	// status stays pending so the user may retry; a completed payment is
	// never demoted.
	MarkFailed(ctx context.Context, orderID string, gatewayResponse []byte) error

	// ListStalePending returns pending payments older than cutoff for the
	// reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Payment, error)
}

// CompleteRefundParams finalizes an approved refund after the gateway call
// succeeded.
type CompleteRefundParams struct {
	ULID            string
	GatewayRefundID string
	AmountCents     int64
	ProcessedBy     string
	ProcessedAt     time.Time
}

// RefundRepository persists refunds. Completion updates the refund, the
// payment's refund fields, and the registration's payment status in one
// transaction.
type RefundRepository interface {
	GetByULID(ctx context.Context, ulid string) (*Refund, error)

	// Reject closes a pending refund without paying. Conditional on status
	// pending; otherwise ErrAlreadyProcessed.
	Reject(ctx context.Context, ulid, actorID string, at time.Time) error

	// MarkCompleted finalizes the refund. Conditional on status pending or
	// failed (a retried refund); otherwise ErrAlreadyProcessed.
	MarkCompleted(ctx context.Context, params CompleteRefundParams) error

	// MarkFailed records a gateway failure and bumps the attempt counter.
	MarkFailed(ctx context.Context, ulid, reason string) error

	// ListRetryable returns failed refunds below the attempt budget for the
	// retry worker.
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Refund, error)
}

// WebhookRepository is the at-least-once delivery ledger. Record returns
// false when the gateway event id was seen before.
type WebhookRepository interface {
	Record(ctx context.Context, gateway, eventID string, payload []byte) (bool, error)
}
