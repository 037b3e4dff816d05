package teams

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusLocked    Status = "locked"
	StatusDisbanded Status = "disbanded"
)

var (
	ErrNotFound      = errors.New("team not found")
	ErrTeamLocked    = errors.New("team is locked")
	ErrTeamFull      = errors.New("team is at maximum size")
	ErrTeamDisbanded = errors.New("team is disbanded")
	ErrNotLeader     = errors.New("only the team leader may perform this action")
	ErrNotMember     = errors.New("user is not a member of the team")
	ErrAlreadyMember = errors.New("user is already a member of the team")
	ErrLeaderRemoval = errors.New("leader cannot be removed; transfer leadership first")
	ErrNotLocked     = errors.New("team is not locked")
)

type Member struct {
	UserID   string
	JoinedAt time.Time
}

// Team groups participants for a team-based event. The leader is always a
// member. Once locked, the roster is immutable until explicitly unlocked.
type Team struct {
	ID        string
	ULID      string
	EventID   string
	Name      string
	LeaderID  string
	MaxSize   int
	Status    Status
	Members   []Member
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (t *Team) Size() int { return len(t.Members) }

// Repository persists teams and rosters. AddMember enforces the size bound
// with a conditional insert so two concurrent joins cannot oversubscribe the
// roster.
type Repository interface {
	Create(ctx context.Context, team *Team) error
	GetByULID(ctx context.Context, ulid string) (*Team, error)

	// AddMember inserts the user into the roster only while the team is
	// active and below max size. Returns ErrTeamFull, ErrAlreadyMember.
	AddMember(ctx context.Context, teamULID, userID string) error

	RemoveMember(ctx context.Context, teamULID, userID string) error

	SetLeader(ctx context.Context, teamULID, userID string) error

	// SetStatus transitions the team conditionally on its current status.
	SetStatus(ctx context.Context, teamULID string, from, to Status) error
}
