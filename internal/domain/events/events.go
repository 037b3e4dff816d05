// Package events holds the read model of the event catalog. Event CRUD is
// owned by an external collaborator service; the registration core only reads
// the fields that gate registration decisions: lifecycle status, deadlines,
// capacity, team-size bounds, payment requirement, and the round schedule.
package events

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("event not found")
	ErrRoundNotFound = errors.New("round not found")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type RoundStatus string

const (
	RoundUpcoming  RoundStatus = "upcoming"
	RoundOngoing   RoundStatus = "ongoing"
	RoundCompleted RoundStatus = "completed"
)

type Event struct {
	ID                   string
	ULID                 string
	Name                 string
	Status               Status
	IsTeamEvent          bool
	MinTeamSize          int
	MaxTeamSize          int
	MaxParticipants      *int // nil = unbounded capacity
	StartsAt             time.Time
	RegistrationOpensAt  *time.Time
	RegistrationClosesAt time.Time
	IsPaid               bool
	AmountCents          int64
	Currency             string
	RefundPolicy         RefundPolicy
	Rounds               []Round
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Round struct {
	ID       string
	EventID  string
	Number   int
	Name     string
	Status   RoundStatus
	StartsAt *time.Time
}

// Round returns the round with the given 1-based number, or ErrRoundNotFound.
func (e *Event) Round(number int) (*Round, error) {
	for i := range e.Rounds {
		if e.Rounds[i].Number == number {
			return &e.Rounds[i], nil
		}
	}
	return nil, ErrRoundNotFound
}

// RegistrationOpen reports whether the registration window is open at now.
func (e *Event) RegistrationOpen(now time.Time) bool {
	if e.Status != StatusPublished {
		return false
	}
	if e.RegistrationOpensAt != nil && now.Before(*e.RegistrationOpensAt) {
		return false
	}
	return now.Before(e.RegistrationClosesAt)
}

// RefundTier is one step of an event's refund policy: cancellations at least
// HoursBefore hours ahead of the event receive Percentage of the paid amount.
type RefundTier struct {
	HoursBefore int `json:"hours_before"`
	Percentage  int `json:"percentage"`
}

// RefundPolicy is an ordered list of tiers, most generous first. The policy is
// snapshotted onto a Refund at cancellation time; later edits to the event
// never alter refunds already created.
type RefundPolicy []RefundTier

// PercentageAt returns the refund percentage owed for a cancellation at
// cancelledAt for an event starting at eventStart. An empty policy refunds
// nothing.
func (p RefundPolicy) PercentageAt(cancelledAt, eventStart time.Time) int {
	hoursBefore := int(eventStart.Sub(cancelledAt).Hours())
	if hoursBefore < 0 {
		hoursBefore = 0
	}
	best := 0
	for _, tier := range p {
		if hoursBefore >= tier.HoursBefore && tier.Percentage > best {
			best = tier.Percentage
		}
	}
	return best
}

// Repository is the read-side contract the registration core needs from the
// event catalog.
type Repository interface {
	GetByULID(ctx context.Context, ulid string) (*Event, error)
	// RepairRoundNumbers assigns missing round numbers sequentially by start
	// time. One-time data repair; idempotent. Returns rounds renumbered.
	RepairRoundNumbers(ctx context.Context, eventID string) (int, error)
	// SetRoundStatus moves a round between upcoming/ongoing/completed.
	SetRoundStatus(ctx context.Context, eventID string, number int, status RoundStatus) error
}
