package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/entranthq/server/internal/domain/teams"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ teams.Repository = (*TeamRepository)(nil)

func (r *TeamRepository) Create(ctx context.Context, team *teams.Team) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO teams (ulid, event_id, name, leader_id, max_size, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`,
			team.ULID, team.EventID, team.Name, team.LeaderID, team.MaxSize, string(team.Status))
		var created, updated pgtype.Timestamptz
		if err := row.Scan(&team.ID, &created, &updated); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		team.CreatedAt = created.Time
		team.UpdatedAt = updated.Time

		if _, err := tx.Exec(ctx, `
INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, team.ID, team.LeaderID); err != nil {
			return fmt.Errorf("insert leader membership: %w", err)
		}
		team.Members = []teams.Member{{UserID: team.LeaderID, JoinedAt: created.Time}}
		return nil
	})
}

func (r *TeamRepository) GetByULID(ctx context.Context, ulid string) (*teams.Team, error) {
	q := r.queryer()

	var team teams.Team
	var created, updated pgtype.Timestamptz
	err := q.QueryRow(ctx, `
SELECT id, ulid, event_id, name, leader_id, max_size, status, created_at, updated_at
  FROM teams
 WHERE ulid = $1 OR id::text = $1`, ulid).Scan(
		&team.ID,
		&team.ULID,
		&team.EventID,
		&team.Name,
		&team.LeaderID,
		&team.MaxSize,
		&team.Status,
		&created,
		&updated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, teams.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	team.CreatedAt = created.Time
	team.UpdatedAt = updated.Time

	rows, err := q.Query(ctx, `
SELECT user_id, joined_at FROM team_members WHERE team_id = $1 ORDER BY joined_at`, team.ID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var member teams.Member
		var joined pgtype.Timestamptz
		if err := rows.Scan(&member.UserID, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.JoinedAt = joined.Time
		team.Members = append(team.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return &team, nil
}

// AddMember inserts conditionally on the roster staying under max_size, so
// concurrent joins serialize on the row count instead of on application
// reads.
func (r *TeamRepository) AddMember(ctx context.Context, teamULID, userID string) error {
	tag, err := r.queryer().Exec(ctx, `
INSERT INTO team_members (team_id, user_id)
SELECT t.id, $2
  FROM teams t
 WHERE t.ulid = $1
   AND t.status = 'active'
   AND (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.id) < t.max_size`,
		teamULID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return teams.ErrAlreadyMember
		}
		return fmt.Errorf("add team member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.addMemberFailure(ctx, teamULID)
	}
	return nil
}

// addMemberFailure works out which precondition declined the insert.
func (r *TeamRepository) addMemberFailure(ctx context.Context, teamULID string) error {
	var status string
	var size, maxSize int
	err := r.queryer().QueryRow(ctx, `
SELECT t.status, t.max_size,
       (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.id)
  FROM teams t
 WHERE t.ulid = $1`, teamULID).Scan(&status, &maxSize, &size)
	if errors.Is(err, pgx.ErrNoRows) {
		return teams.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect team: %w", err)
	}
	switch teams.Status(status) {
	case teams.StatusLocked:
		return teams.ErrTeamLocked
	case teams.StatusDisbanded:
		return teams.ErrTeamDisbanded
	}
	if size >= maxSize {
		return teams.ErrTeamFull
	}
	return fmt.Errorf("add team member: insert declined for team %s", teamULID)
}

func (r *TeamRepository) RemoveMember(ctx context.Context, teamULID, userID string) error {
	tag, err := r.queryer().Exec(ctx, `
DELETE FROM team_members m
 USING teams t
 WHERE m.team_id = t.id AND t.ulid = $1 AND m.user_id = $2`, teamULID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teams.ErrNotMember
	}
	return nil
}

func (r *TeamRepository) SetLeader(ctx context.Context, teamULID, userID string) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE teams t
   SET leader_id = $2, updated_at = now()
 WHERE t.ulid = $1
   AND EXISTS (SELECT 1 FROM team_members m WHERE m.team_id = t.id AND m.user_id = $2)`,
		teamULID, userID)
	if err != nil {
		return fmt.Errorf("set team leader: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teams.ErrNotMember
	}
	return nil
}

func (r *TeamRepository) SetStatus(ctx context.Context, teamULID string, from, to teams.Status) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE teams
   SET status = $3, updated_at = now()
 WHERE ulid = $1 AND status = $2`, teamULID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("set team status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM teams WHERE ulid = $1)`, teamULID).Scan(&exists); err != nil {
			return fmt.Errorf("check team exists: %w", err)
		}
		if !exists {
			return teams.ErrNotFound
		}
		return fmt.Errorf("team %s is not %s", teamULID, from)
	}
	return nil
}
