package teams

import (
	"context"
	"fmt"

	"github.com/entranthq/server/internal/domain/ids"
	"github.com/rs/zerolog"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateInput struct {
	EventID  string
	Name     string
	LeaderID string
	MaxSize  int
}

// Create makes a new active team with the leader as its first member.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Team, error) {
	if input.MaxSize < 1 {
		return nil, fmt.Errorf("team max size must be positive, got %d", input.MaxSize)
	}
	ulid, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint team ulid: %w", err)
	}
	team := &Team{
		ULID:     ulid,
		EventID:  input.EventID,
		Name:     input.Name,
		LeaderID: input.LeaderID,
		MaxSize:  input.MaxSize,
		Status:   StatusActive,
	}
	if err := s.repo.Create(ctx, team); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("team", team.ULID).
		Str("event", team.EventID).
		Str("leader", team.LeaderID).
		Msg("team created")
	return team, nil
}

func (s *Service) Get(ctx context.Context, teamULID string) (*Team, error) {
	return s.repo.GetByULID(ctx, teamULID)
}

// AddMember adds a user to an active team's roster. The size bound is
// enforced again by the storage layer; the checks here give precise errors
// for the common cases.
func (s *Service) AddMember(ctx context.Context, teamULID, requesterID, userID string) error {
	team, err := s.rosterTeam(ctx, teamULID, requesterID, userID)
	if err != nil {
		return err
	}
	if team.HasMember(userID) {
		return ErrAlreadyMember
	}
	if team.Size() >= team.MaxSize {
		return ErrTeamFull
	}
	return s.repo.AddMember(ctx, teamULID, userID)
}

// RemoveMember removes a member from an active team. The leader cannot be
// removed; leadership must be transferred first.
func (s *Service) RemoveMember(ctx context.Context, teamULID, requesterID, userID string) error {
	team, err := s.rosterTeam(ctx, teamULID, requesterID, userID)
	if err != nil {
		return err
	}
	if userID == team.LeaderID {
		return ErrLeaderRemoval
	}
	if !team.HasMember(userID) {
		return ErrNotMember
	}
	return s.repo.RemoveMember(ctx, teamULID, userID)
}

// TransferLeadership hands the team to another current member.
func (s *Service) TransferLeadership(ctx context.Context, teamULID, requesterID, newLeaderID string) error {
	team, err := s.mutableTeam(ctx, teamULID, requesterID)
	if err != nil {
		return err
	}
	if !team.HasMember(newLeaderID) {
		return ErrNotMember
	}
	return s.repo.SetLeader(ctx, teamULID, newLeaderID)
}

// Lock freezes the roster. Leader-only.
func (s *Service) Lock(ctx context.Context, teamULID, requesterID string) error {
	team, err := s.repo.GetByULID(ctx, teamULID)
	if err != nil {
		return err
	}
	if team.LeaderID != requesterID {
		return ErrNotLeader
	}
	switch team.Status {
	case StatusLocked:
		return nil // already locked, no-op
	case StatusDisbanded:
		return ErrTeamDisbanded
	}
	return s.repo.SetStatus(ctx, teamULID, StatusActive, StatusLocked)
}

// Unlock is the one mutation permitted on a locked team. Leader-only.
func (s *Service) Unlock(ctx context.Context, teamULID, requesterID string) error {
	team, err := s.repo.GetByULID(ctx, teamULID)
	if err != nil {
		return err
	}
	if team.LeaderID != requesterID {
		return ErrNotLeader
	}
	if team.Status != StatusLocked {
		return ErrNotLocked
	}
	return s.repo.SetStatus(ctx, teamULID, StatusLocked, StatusActive)
}

// Disband retires the team. Leader-only; locked teams must be unlocked first.
func (s *Service) Disband(ctx context.Context, teamULID, requesterID string) error {
	if _, err := s.mutableTeam(ctx, teamULID, requesterID); err != nil {
		return err
	}
	return s.repo.SetStatus(ctx, teamULID, StatusActive, StatusDisbanded)
}

// rosterTeam authorizes a roster change: users may join or leave on their own
// behalf, only the leader may change someone else's membership, and the team
// must be active either way.
func (s *Service) rosterTeam(ctx context.Context, teamULID, requesterID, userID string) (*Team, error) {
	team, err := s.repo.GetByULID(ctx, teamULID)
	if err != nil {
		return nil, err
	}
	if requesterID != userID && team.LeaderID != requesterID {
		return nil, ErrNotLeader
	}
	switch team.Status {
	case StatusLocked:
		return nil, ErrTeamLocked
	case StatusDisbanded:
		return nil, ErrTeamDisbanded
	}
	return team, nil
}

// mutableTeam loads the team and rejects mutation when the requester is not
// the leader or the team is not active.
func (s *Service) mutableTeam(ctx context.Context, teamULID, requesterID string) (*Team, error) {
	team, err := s.repo.GetByULID(ctx, teamULID)
	if err != nil {
		return nil, err
	}
	if team.LeaderID != requesterID {
		return nil, ErrNotLeader
	}
	switch team.Status {
	case StatusLocked:
		return nil, ErrTeamLocked
	case StatusDisbanded:
		return nil, ErrTeamDisbanded
	}
	return team, nil
}
