package registrations

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("registration not found")

	// ErrDuplicateRegistration is returned by the invariant store when the
	// (event, user) pair already holds a non-terminal registration.
	ErrDuplicateRegistration = errors.New("user already has an active registration for this event")

	// ErrCapacityExceeded is returned by the invariant store when the event
	// is at max participants.
	ErrCapacityExceeded = errors.New("event capacity exceeded")

	ErrEventNotOpen   = errors.New("event is not open for registration")
	ErrNotOpenYet     = errors.New("registration has not opened yet")
	ErrDeadlinePassed = errors.New("registration deadline has passed")

	ErrAlreadyTerminal   = errors.New("registration is already in a terminal state")
	ErrCheckedIn         = errors.New("registration has recorded attendance and cannot be cancelled")
	ErrInvalidTransition = errors.New("illegal registration status transition")
	ErrForbidden         = errors.New("requester may not act on this registration")

	ErrNotTeamMember = errors.New("user is not a member of the team")
	ErrTeamDisbanded = errors.New("team is disbanded")

	// ErrIdempotencyConflict is returned when an Idempotency-Key is replayed
	// with a different request body, or while its first attempt is still in
	// flight.
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different request")
)

// TeamSizeError reports a roster outside the event's team-size bounds.
type TeamSizeError struct {
	Size int
	Min  int
	Max  int
}

func (e TeamSizeError) Error() string {
	return fmt.Sprintf("team size %d outside allowed bounds [%d, %d]", e.Size, e.Min, e.Max)
}
