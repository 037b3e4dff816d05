package registrations

import (
	"context"
	"time"
)

// RefundSeed describes the refund row a terminal transition owes when the
// registration was already paid. The percentage is snapshotted here, at
// cancellation time, so later policy edits cannot alter it. The original
// amount and payment reference are read from the payment row inside the same
// transaction that cancels the registration.
type RefundSeed struct {
	ULID       string
	Percentage int
}

// TerminateParams moves a registration into a terminal state. The storage
// implementation must apply the status change, the capacity release, and the
// refund seed (when present) as one atomic unit.
type TerminateParams struct {
	ULID   string
	To     Status // StatusCancelled or StatusRejected
	Reason string
	Refund *RefundSeed
}

// IdempotencyRecord ties a client-chosen Idempotency-Key to the registration
// its first attempt produced. RegistrationULID stays nil while that attempt is
// in flight or failed before the claim landed.
type IdempotencyRecord struct {
	Key              string
	RequestHash      string
	RegistrationULID *string
	CreatedAt        time.Time
}

// IdempotencyStore persists idempotency key records. Lookups return nil, nil
// for an unknown key.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error)

	// InsertIdempotencyRecord claims the key for an in-flight attempt.
	// Inserting a key that already exists is a no-op.
	InsertIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error

	// BindIdempotencyRecord points the key at the registration it created.
	BindIdempotencyRecord(ctx context.Context, key, registrationULID string) error
}

// Repository persists registrations. Claim and Release together form the
// capacity/uniqueness invariant store: the guarantees live in the storage
// layer (partial unique index plus conditional counter update), not in
// application code, so they hold across concurrent request handlers and
// process restarts.
type Repository interface {
	// Claim atomically checks that no non-terminal registration exists for
	// (event, user), that capacity remains, and inserts the registration.
	// The registration number is minted from the global sequence during the
	// same transaction. Returns ErrDuplicateRegistration or
	// ErrCapacityExceeded; on success reg is updated with the stored row.
	Claim(ctx context.Context, reg *Registration) error

	// Release returns the registration's capacity slot. Guarded by a
	// released flag: the first call decrements the counter and reports true,
	// every later call is a no-op reporting false.
	Release(ctx context.Context, ulid string) (bool, error)

	GetByULID(ctx context.Context, ulid string) (*Registration, error)

	// Terminate cancels or rejects a registration: status change, slot
	// release, and refund seeding happen in a single transaction. Fails with
	// ErrInvalidTransition when the current status does not permit the move.
	Terminate(ctx context.Context, params TerminateParams) error

	// SetStatus applies a non-terminal transition (e.g. pending→confirmed)
	// conditionally on the current status. Capacity is untouched.
	SetStatus(ctx context.Context, ulid string, from, to Status) error

	// ConfirmFromWaitlist promotes a waitlisted registration, re-claiming a
	// capacity slot in the same transaction. Returns ErrCapacityExceeded when
	// the event is full.
	ConfirmFromWaitlist(ctx context.Context, ulid string) error

	// MoveToWaitlist parks a pending registration on the waitlist, releasing
	// its capacity slot in the same transaction. Waitlisted rows hold no slot.
	MoveToWaitlist(ctx context.Context, ulid string) error

	SetPaymentStatus(ctx context.Context, ulid string, status PaymentStatus) error

	SetCheckedIn(ctx context.Context, ulid string, at time.Time) error

	// ListActiveByTeam returns the non-terminal registrations of a team's
	// members for the team's event.
	ListActiveByTeam(ctx context.Context, teamID string) ([]Registration, error)

	// ListByEventAndRound returns non-terminal, non-eliminated registrations
	// currently at the given round.
	ListByEventAndRound(ctx context.Context, eventID string, round int) ([]Registration, error)

	// AdvanceToRound sets current_round and appends toRound to the
	// advancement history if absent. Idempotent.
	AdvanceToRound(ctx context.Context, ulid string, toRound int) error

	// Eliminate marks the registration out at the given round unless it has
	// already advanced past it.
	Eliminate(ctx context.Context, ulid string, round int) error

	// CountActive returns the number of registrations currently counted
	// against the event's capacity.
	CountActive(ctx context.Context, eventID string) (int, error)
}
