package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entranthq/server/internal/domain/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ events.Repository = (*EventRepository)(nil)

// GetByULID loads an event with its rounds. Callers inside the module hold
// internal ids rather than ULIDs in foreign keys, so both are accepted.
func (r *EventRepository) GetByULID(ctx context.Context, ulid string) (*events.Event, error) {
	q := r.queryer()

	var (
		event        events.Event
		policy       []byte
		opensAt      pgtype.Timestamptz
		startsAt     pgtype.Timestamptz
		closesAt     pgtype.Timestamptz
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	err := q.QueryRow(ctx, `
SELECT id, ulid, name, status, is_team_event, min_team_size, max_team_size,
       max_participants, starts_at, registration_opens_at,
       registration_closes_at, is_paid, amount_cents, currency, refund_policy,
       created_at, updated_at
  FROM events
 WHERE ulid = $1 OR id::text = $1`, ulid).Scan(
		&event.ID,
		&event.ULID,
		&event.Name,
		&event.Status,
		&event.IsTeamEvent,
		&event.MinTeamSize,
		&event.MaxTeamSize,
		&event.MaxParticipants,
		&startsAt,
		&opensAt,
		&closesAt,
		&event.IsPaid,
		&event.AmountCents,
		&event.Currency,
		&policy,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	event.StartsAt = startsAt.Time
	event.RegistrationClosesAt = closesAt.Time
	event.CreatedAt = createdAt.Time
	event.UpdatedAt = updatedAt.Time
	if opensAt.Valid {
		t := opensAt.Time
		event.RegistrationOpensAt = &t
	}
	if len(policy) > 0 {
		if err := json.Unmarshal(policy, &event.RefundPolicy); err != nil {
			return nil, fmt.Errorf("decode refund policy: %w", err)
		}
	}

	event.Rounds, err = r.loadRounds(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepository) loadRounds(ctx context.Context, eventID string) ([]events.Round, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, event_id, COALESCE(number, 0), name, status, starts_at
  FROM event_rounds
 WHERE event_id = $1
 ORDER BY number NULLS LAST, created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	defer rows.Close()

	var out []events.Round
	for rows.Next() {
		var round events.Round
		var startsAt pgtype.Timestamptz
		if err := rows.Scan(&round.ID, &round.EventID, &round.Number, &round.Name, &round.Status, &startsAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if startsAt.Valid {
			t := startsAt.Time
			round.StartsAt = &t
		}
		out = append(out, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

func (r *EventRepository) RepairRoundNumbers(ctx context.Context, eventID string) (int, error) {
	repaired := 0
	err := inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		// Only events carrying unnumbered rounds are renumbered, ordered by
		// scheduled start then creation so the assignment is stable.
		tag, err := tx.Exec(ctx, `
WITH numbered AS (
    SELECT id,
           ROW_NUMBER() OVER (ORDER BY starts_at NULLS LAST, created_at, id) AS rn
      FROM event_rounds
     WHERE event_id = $1
)
UPDATE event_rounds r
   SET number = numbered.rn
  FROM numbered
 WHERE r.id = numbered.id
   AND EXISTS (SELECT 1 FROM event_rounds WHERE event_id = $1 AND number IS NULL)`, eventID)
		if err != nil {
			return fmt.Errorf("repair round numbers: %w", err)
		}
		repaired = int(tag.RowsAffected())
		return nil
	})
	return repaired, err
}

func (r *EventRepository) SetRoundStatus(ctx context.Context, eventID string, number int, status events.RoundStatus) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE event_rounds
   SET status = $3
 WHERE event_id = $1 AND number = $2`, eventID, number, string(status))
	if err != nil {
		return fmt.Errorf("set round status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrRoundNotFound
	}
	return nil
}
