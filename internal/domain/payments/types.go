package payments

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment is one-to-one with a registration that requires payment. Status is
// monotonic once completed: nothing reverts a completed payment to pending.
type Payment struct {
	ID             string
	ULID           string
	RegistrationID string
	Gateway        string
	OrderID        string
	TransactionID  *string // gateway transaction id, the webhook idempotency key
	AmountCents    int64
	Currency       string
	Status         Status
	PaidAt         *time.Time

	RefundAmountCents *int64
	RefundedAt        *time.Time

	// GatewayResponse is the raw gateway payload snapshot kept for
	// idempotency checks and audit.
	GatewayResponse []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundRejected  RefundStatus = "rejected"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is derived from a completed payment when its registration reaches a
// terminal state. RefundPercentage is a snapshot taken at cancellation time;
// later policy changes never alter it.
type Refund struct {
	ID                  string
	ULID                string
	PaymentID           string
	RegistrationID      string
	Status              RefundStatus
	OriginalAmountCents int64
	RefundPercentage    int
	RefundAmountCents   *int64
	GatewayRefundID     *string
	ProcessedBy         *string
	ProcessedAt         *time.Time
	FailureReason       string
	Attempts            int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Amount computes the refundable amount from the snapshot. Pure function of
// the captured values.
func (r *Refund) Amount() int64 {
	return r.OriginalAmountCents * int64(r.RefundPercentage) / 100
}
