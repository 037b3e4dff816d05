// Package progression advances teams between the ordered rounds of a
// multi-stage event and eliminates the rest. Progression is strictly forward:
// a round once passed is never re-entered.
package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRoundOrder = errors.New("target round must not precede the source round")
	ErrRoundNotOngoing   = errors.New("source round is not ongoing or completed")
	ErrNoTeams           = errors.New("no teams named for progression")
)

// Notifier receives round outcomes. Fire and forget; implementations log
// their own failures.
type Notifier interface {
	TeamAdvanced(ctx context.Context, eventID string, teamID string, toRound int)
	RegistrationEliminated(ctx context.Context, reg *registrations.Registration, round int)
}

type Service struct {
	events   events.Repository
	teams    teams.Repository
	regs     registrations.Repository
	notifier Notifier
}

func NewService(eventRepo events.Repository, teamRepo teams.Repository, regRepo registrations.Repository, notifier Notifier) *Service {
	return &Service{events: eventRepo, teams: teamRepo, regs: regRepo, notifier: notifier}
}

type ProgressInput struct {
	EventULID     string
	TeamULIDs     []string
	FromRound     int
	ToRound       int
	EliminateRest bool
}

type ProgressResult struct {
	Advanced   int // registrations advanced
	Eliminated int // registrations eliminated
}

// ProgressTeams advances every registered member of the named teams from
// FromRound to ToRound. Advancement is idempotent: a member already carrying
// ToRound in its history is left untouched. With EliminateRest, every
// registration still standing at FromRound that was not advanced is marked
// eliminated there.
func (s *Service) ProgressTeams(ctx context.Context, input ProgressInput) (ProgressResult, error) {
	var result ProgressResult

	if input.ToRound < input.FromRound {
		return result, fmt.Errorf("%w: %d -> %d", ErrInvalidRoundOrder, input.FromRound, input.ToRound)
	}
	if len(input.TeamULIDs) == 0 {
		return result, ErrNoTeams
	}

	event, err := s.events.GetByULID(ctx, input.EventULID)
	if err != nil {
		return result, err
	}

	from, err := event.Round(input.FromRound)
	if err != nil {
		return result, err
	}
	if from.Status == events.RoundUpcoming {
		return result, fmt.Errorf("%w: round %d is %s", ErrRoundNotOngoing, input.FromRound, from.Status)
	}
	if _, err := event.Round(input.ToRound); err != nil {
		return result, err
	}

	logger := zerolog.Ctx(ctx)

	advanced := make(map[string]bool)
	for _, teamULID := range input.TeamULIDs {
		team, err := s.teams.GetByULID(ctx, teamULID)
		if err != nil {
			return result, fmt.Errorf("load team %s: %w", teamULID, err)
		}
		members, err := s.regs.ListActiveByTeam(ctx, team.ID)
		if err != nil {
			return result, fmt.Errorf("load team registrations: %w", err)
		}
		for i := range members {
			reg := &members[i]
			if reg.AdvancedTo(input.ToRound) {
				advanced[reg.ULID] = true
				continue // second identical call is a no-op
			}
			if err := s.regs.AdvanceToRound(ctx, reg.ULID, input.ToRound); err != nil {
				return result, fmt.Errorf("advance %s: %w", reg.ULID, err)
			}
			advanced[reg.ULID] = true
			result.Advanced++
		}
		if s.notifier != nil {
			s.notifier.TeamAdvanced(ctx, event.ID, team.ID, input.ToRound)
		}
	}

	if input.EliminateRest {
		standing, err := s.regs.ListByEventAndRound(ctx, event.ID, input.FromRound)
		if err != nil {
			return result, fmt.Errorf("load round registrations: %w", err)
		}
		for i := range standing {
			reg := &standing[i]
			if advanced[reg.ULID] {
				continue
			}
			if err := s.regs.Eliminate(ctx, reg.ULID, input.FromRound); err != nil {
				return result, fmt.Errorf("eliminate %s: %w", reg.ULID, err)
			}
			result.Eliminated++
			if s.notifier != nil {
				s.notifier.RegistrationEliminated(ctx, reg, input.FromRound)
			}
		}
	}

	logger.Info().
		Str("event", event.ULID).
		Int("from_round", input.FromRound).
		Int("to_round", input.ToRound).
		Int("advanced", result.Advanced).
		Int("eliminated", result.Eliminated).
		Msg("round progression applied")

	return result, nil
}

// RepairRoundNumbers assigns missing round numbers sequentially by start
// time. A one-time data repair, safe to re-run.
func (s *Service) RepairRoundNumbers(ctx context.Context, eventULID string) (int, error) {
	event, err := s.events.GetByULID(ctx, eventULID)
	if err != nil {
		return 0, err
	}
	repaired, err := s.events.RepairRoundNumbers(ctx, event.ID)
	if err != nil {
		return 0, err
	}
	if repaired > 0 {
		zerolog.Ctx(ctx).Warn().
			Str("event", event.ULID).
			Int("rounds", repaired).
			Msg("repaired missing round numbers")
	}
	return repaired, nil
}
