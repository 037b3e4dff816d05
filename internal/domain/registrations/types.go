package registrations

import (
	"time"
)

// Status is the registration lifecycle state. Cancelled and rejected are
// terminal: a terminal registration never transitions again, re-registration
// creates a new row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether the status permanently closes the registration.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRejected
}

// Active reports whether the status counts against event capacity and blocks
// duplicate registrations for the same (event, user) pair.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusWaitlisted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Terminal states have no outgoing transitions.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusWaitlisted ||
			next == StatusRejected || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	case StatusWaitlisted:
		return next == StatusConfirmed || next == StatusCancelled
	}
	return false
}

// PaymentStatus tracks how a registration's payment obligation stands. It
// evolves independently of Status but is constrained by it: a terminal
// registration holding a completed payment moves to refund_pending, never
// back to pending.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefundPending PaymentStatus = "refund_pending"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentNotRequired   PaymentStatus = "not_required"
)

// Registration is one user's (or one team member's) claim on an event.
type Registration struct {
	ID                 string
	ULID               string
	RegistrationNumber string
	EventID            string
	UserID             string
	TeamID             *string
	Status             Status
	PaymentStatus      PaymentStatus

	// Round progression fields; only meaningful for round-based events.
	CurrentRound      int
	EliminatedInRound *int
	AdvancedToRounds  []int

	CheckedIn       bool
	CheckedInAt     *time.Time
	SlotReleased    bool
	CancelledReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdvancedTo reports whether the registration already carries the round in its
// advancement history, making repeated progression calls no-ops.
func (r *Registration) AdvancedTo(round int) bool {
	for _, n := range r.AdvancedToRounds {
		if n == round {
			return true
		}
	}
	return false
}
