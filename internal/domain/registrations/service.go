package registrations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/entranthq/server/internal/auth"
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/ids"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/entranthq/server/internal/metrics"
	"github.com/rs/zerolog"
)

// Notifier is the outbound notification collaborator. Implementations handle
// their own failures; calls are fire and forget.
type Notifier interface {
	RegistrationCreated(ctx context.Context, reg *Registration)
	RegistrationCancelled(ctx context.Context, reg *Registration)
}

// Actor identifies who is performing an operation and with what role.
type Actor struct {
	ID   string
	Role auth.Role
}

// Privileged reports whether the actor holds an organizer or admin role.
func (a Actor) Privileged() bool {
	return a.Role == auth.RoleAdmin || a.Role == auth.RoleOrganizer
}

type Service struct {
	events   events.Repository
	teams    teams.Repository
	repo     Repository
	idems    IdempotencyStore
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the service clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIdempotencyStore enables persisted Idempotency-Key replay for Register.
// Without a store, keys are ignored.
func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(s *Service) { s.idems = store }
}

func NewService(eventRepo events.Repository, teamRepo teams.Repository, repo Repository, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		events:   eventRepo,
		teams:    teamRepo,
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	EventULID string
	UserID    string
	TeamULID  *string
}

// fingerprint hashes the request so a replayed key can be checked against the
// body it was first used with.
func (in RegisterInput) fingerprint() string {
	team := ""
	if in.TeamULID != nil {
		team = *in.TeamULID
	}
	sum := sha256.Sum256([]byte(in.EventULID + "\x00" + in.UserID + "\x00" + team))
	return hex.EncodeToString(sum[:])
}

// RegisterIdempotent wraps Register with persisted replay keyed by the
// client's Idempotency-Key header. Replaying a key with the same request
// returns the registration the first attempt created; the same key with a
// different request, or a key whose first attempt has not finished, is
// ErrIdempotencyConflict.
func (s *Service) RegisterIdempotent(ctx context.Context, input RegisterInput, key string) (*Registration, error) {
	if key == "" || s.idems == nil {
		return s.Register(ctx, input)
	}

	hash := input.fingerprint()
	record, err := s.idems.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if record != nil {
		if record.RequestHash != hash || record.RegistrationULID == nil {
			return nil, ErrIdempotencyConflict
		}
		zerolog.Ctx(ctx).Info().
			Str("idempotency_key", key).
			Str("registration", *record.RegistrationULID).
			Msg("registration replayed from idempotency key")
		return s.repo.GetByULID(ctx, *record.RegistrationULID)
	}

	if err := s.idems.InsertIdempotencyRecord(ctx, IdempotencyRecord{Key: key, RequestHash: hash}); err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}

	reg, err := s.Register(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.idems.BindIdempotencyRecord(ctx, key, reg.ULID); err != nil {
		return nil, fmt.Errorf("bind idempotency key: %w", err)
	}
	return reg, nil
}

// Register runs the full registration attempt: window checks, team checks,
// then the atomic capacity/uniqueness claim. The claim and the row insert are
// one storage-level unit, so two concurrent attempts can never both succeed.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Registration, error) {
	event, err := s.events.GetByULID(ctx, input.EventULID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := checkWindow(event, now); err != nil {
		return nil, err
	}

	reg := &Registration{
		EventID: event.ID,
		UserID:  input.UserID,
	}

	if input.TeamULID != nil {
		team, err := s.validateTeam(ctx, event, *input.TeamULID, input.UserID)
		if err != nil {
			return nil, err
		}
		reg.TeamID = &team.ID
	}

	reg.ULID, err = ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint registration ulid: %w", err)
	}

	if event.IsPaid {
		reg.Status = StatusPending
		reg.PaymentStatus = PaymentPending
	} else {
		reg.Status = StatusConfirmed
		reg.PaymentStatus = PaymentNotRequired
	}
	if len(event.Rounds) > 0 {
		reg.CurrentRound = 1
	}

	if err := s.repo.Claim(ctx, reg); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("registration", reg.ULID).
		Str("registration_number", reg.RegistrationNumber).
		Str("event", event.ULID).
		Str("user", input.UserID).
		Str("status", string(reg.Status)).
		Msg("registration claimed")

	if s.notifier != nil {
		s.notifier.RegistrationCreated(ctx, reg)
	}
	return reg, nil
}

// Cancel moves a registration to cancelled, releasing its capacity slot and,
// when a completed payment exists, seeding a pending refund, all in one
// storage transaction. Re-cancelling an already-cancelled registration is an
// idempotent success.
func (s *Service) Cancel(ctx context.Context, registrationULID string, actor Actor, reason string) (*Registration, error) {
	reg, err := s.repo.GetByULID(ctx, registrationULID)
	if err != nil {
		return nil, err
	}
	if actor.ID != reg.UserID && !actor.Privileged() {
		return nil, ErrForbidden
	}
	if reg.Status == StatusCancelled {
		return reg, nil
	}
	if reg.Status == StatusRejected {
		return nil, ErrAlreadyTerminal
	}
	if reg.CheckedIn {
		return nil, ErrCheckedIn
	}

	params := TerminateParams{
		ULID:   reg.ULID,
		To:     StatusCancelled,
		Reason: reason,
	}
	if reg.PaymentStatus == PaymentPaid {
		seed, err := s.refundSeed(ctx, reg)
		if err != nil {
			return nil, err
		}
		params.Refund = seed
	}

	if err := s.repo.Terminate(ctx, params); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetByULID(ctx, registrationULID)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("registration", reg.ULID).
		Str("actor", actor.ID).
		Bool("refund_owed", params.Refund != nil).
		Msg("registration cancelled")

	if s.notifier != nil {
		s.notifier.RegistrationCancelled(ctx, updated)
	}
	return updated, nil
}

// UpdateStatus is the organizer/admin override. It re-validates the
// transition against the state diagram and claims or releases capacity
// symmetrically with the move.
func (s *Service) UpdateStatus(ctx context.Context, registrationULID string, newStatus Status, actor Actor) (*Registration, error) {
	if !actor.Privileged() {
		return nil, ErrForbidden
	}
	reg, err := s.repo.GetByULID(ctx, registrationULID)
	if err != nil {
		return nil, err
	}
	if reg.Status == newStatus {
		return reg, nil
	}
	if reg.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if !reg.Status.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reg.Status, newStatus)
	}

	switch {
	case newStatus.Terminal():
		params := TerminateParams{ULID: reg.ULID, To: newStatus}
		if reg.PaymentStatus == PaymentPaid {
			seed, err := s.refundSeed(ctx, reg)
			if err != nil {
				return nil, err
			}
			params.Refund = seed
		}
		if err := s.repo.Terminate(ctx, params); err != nil {
			return nil, err
		}
	case reg.Status == StatusWaitlisted && newStatus == StatusConfirmed:
		// Waitlisted rows do not hold a slot; promotion claims one and can
		// fail on capacity.
		if err := s.repo.ConfirmFromWaitlist(ctx, reg.ULID); err != nil {
			return nil, err
		}
		metrics.WaitlistPromotions.Inc()
	case newStatus == StatusWaitlisted:
		// The reverse move frees the slot for whoever comes next.
		if err := s.repo.MoveToWaitlist(ctx, reg.ULID); err != nil {
			return nil, err
		}
	default:
		if err := s.repo.SetStatus(ctx, reg.ULID, reg.Status, newStatus); err != nil {
			return nil, err
		}
	}

	zerolog.Ctx(ctx).Info().
		Str("registration", reg.ULID).
		Str("actor", actor.ID).
		Str("from", string(reg.Status)).
		Str("to", string(newStatus)).
		Msg("registration status overridden")

	return s.repo.GetByULID(ctx, registrationULID)
}

// CheckIn records attendance for a confirmed registration. Attendance blocks
// later cancellation: there is no un-attend.
func (s *Service) CheckIn(ctx context.Context, registrationULID string, actor Actor) (*Registration, error) {
	if !actor.Privileged() {
		return nil, ErrForbidden
	}
	reg, err := s.repo.GetByULID(ctx, registrationULID)
	if err != nil {
		return nil, err
	}
	if reg.CheckedIn {
		return reg, nil
	}
	if reg.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: only confirmed registrations can check in (status %s)", ErrInvalidTransition, reg.Status)
	}
	if err := s.repo.SetCheckedIn(ctx, reg.ULID, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetByULID(ctx, registrationULID)
}

func (s *Service) Get(ctx context.Context, registrationULID string) (*Registration, error) {
	return s.repo.GetByULID(ctx, registrationULID)
}

// refundSeed snapshots the event's refund policy for a paid registration
// being terminated now.
func (s *Service) refundSeed(ctx context.Context, reg *Registration) (*RefundSeed, error) {
	event, err := s.eventByID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	ulid, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint refund ulid: %w", err)
	}
	return &RefundSeed{
		ULID:       ulid,
		Percentage: event.RefundPolicy.PercentageAt(s.now(), event.StartsAt),
	}, nil
}

// eventByID resolves an internal event id. Repositories key events by ULID at
// the API surface but registrations store the internal id; the repository
// accepts either.
func (s *Service) eventByID(ctx context.Context, id string) (*events.Event, error) {
	return s.events.GetByULID(ctx, id)
}

func (s *Service) validateTeam(ctx context.Context, event *events.Event, teamULID, userID string) (*teams.Team, error) {
	if !event.IsTeamEvent {
		return nil, fmt.Errorf("event %s does not take team registrations", event.ULID)
	}
	team, err := s.teams.GetByULID(ctx, teamULID)
	if err != nil {
		if errors.Is(err, teams.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load team: %w", err)
	}
	if team.Status == teams.StatusDisbanded {
		return nil, ErrTeamDisbanded
	}
	if !team.HasMember(userID) {
		return nil, ErrNotTeamMember
	}
	if size := team.Size(); size < event.MinTeamSize || size > event.MaxTeamSize {
		return nil, TeamSizeError{Size: size, Min: event.MinTeamSize, Max: event.MaxTeamSize}
	}
	return team, nil
}

func checkWindow(event *events.Event, now time.Time) error {
	if event.Status != events.StatusPublished {
		return ErrEventNotOpen
	}
	if event.RegistrationOpensAt != nil && now.Before(*event.RegistrationOpensAt) {
		return ErrNotOpenYet
	}
	if !now.Before(event.RegistrationClosesAt) {
		return ErrDeadlinePassed
	}
	return nil
}
