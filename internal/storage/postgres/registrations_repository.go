package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entranthq/server/internal/domain/ids"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ registrations.Repository = (*RegistrationRepository)(nil)

const registrationColumns = `
    id, ulid, registration_number, event_id, user_id, team_id,
    status, payment_status, current_round, eliminated_in_round,
    advanced_to_rounds, checked_in_at, slot_released, cancelled_reason,
    created_at, updated_at`

// claimSlotSQL seeds the capacity row on first use and increments it
// conditionally afterwards. Zero rows affected means the event is full; the
// counter can never pass max_participants no matter how many transactions
// race on it. The seed path carries the same capacity guard as the update
// path so a zero-capacity event rejects its very first claim too.
const claimSlotSQL = `
INSERT INTO event_capacity (event_id, max_participants, registered_count)
SELECT id, max_participants, 1 FROM events
 WHERE id = $1
   AND (max_participants IS NULL OR max_participants > 0)
ON CONFLICT (event_id) DO UPDATE
   SET registered_count = event_capacity.registered_count + 1
 WHERE event_capacity.max_participants IS NULL
    OR event_capacity.registered_count < event_capacity.max_participants`

const releaseSlotSQL = `
UPDATE event_capacity
   SET registered_count = registered_count - 1
 WHERE event_id = $1 AND registered_count > 0`

func (r *RegistrationRepository) Claim(ctx context.Context, reg *registrations.Registration) error {
	err := inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, claimSlotSQL, reg.EventID)
		if err != nil {
			return fmt.Errorf("claim capacity slot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return registrations.ErrCapacityExceeded
		}

		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('registration_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("next registration number: %w", err)
		}
		number := ids.FormatRegistrationNumber(time.Now().UTC().Year(), seq)

		row := tx.QueryRow(ctx, `
INSERT INTO registrations (ulid, registration_number, event_id, user_id, team_id,
                           status, payment_status, current_round)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`,
			reg.ULID,
			number,
			reg.EventID,
			reg.UserID,
			reg.TeamID,
			string(reg.Status),
			string(reg.PaymentStatus),
			reg.CurrentRound,
		)
		var created, updated pgtype.Timestamptz
		if err := row.Scan(&reg.ID, &created, &updated); err != nil {
			if isUniqueViolation(err) {
				return registrations.ErrDuplicateRegistration
			}
			return fmt.Errorf("insert registration: %w", err)
		}
		reg.RegistrationNumber = number
		reg.CreatedAt = created.Time
		reg.UpdatedAt = updated.Time
		return nil
	})
	return err
}

func (r *RegistrationRepository) Release(ctx context.Context, ulid string) (bool, error) {
	released := false
	err := inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var eventID string
		err := tx.QueryRow(ctx, `
UPDATE registrations
   SET slot_released = TRUE, updated_at = now()
 WHERE ulid = $1 AND NOT slot_released
RETURNING event_id`, ulid).Scan(&eventID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark slot released: %w", err)
		}
		if _, err := tx.Exec(ctx, releaseSlotSQL, eventID); err != nil {
			return fmt.Errorf("release capacity slot: %w", err)
		}
		released = true
		return nil
	})
	return released, err
}

func (r *RegistrationRepository) GetByULID(ctx context.Context, ulid string) (*registrations.Registration, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT `+registrationColumns+`
  FROM registrations
 WHERE ulid = $1`, ulid)
	reg, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registrations.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) Terminate(ctx context.Context, params registrations.TerminateParams) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var (
			id            string
			eventID       string
			status        string
			paymentStatus string
			slotReleased  bool
		)
		err := tx.QueryRow(ctx, `
SELECT id, event_id, status, payment_status, slot_released
  FROM registrations
 WHERE ulid = $1
   FOR UPDATE`, params.ULID).Scan(&id, &eventID, &status, &paymentStatus, &slotReleased)
		if errors.Is(err, pgx.ErrNoRows) {
			return registrations.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock registration: %w", err)
		}

		current := registrations.Status(status)
		if current.Terminal() || !current.CanTransitionTo(params.To) {
			return fmt.Errorf("%w: %s -> %s", registrations.ErrInvalidTransition, current, params.To)
		}

		nextPayment := paymentStatus
		if params.Refund != nil && paymentStatus == string(registrations.PaymentPaid) {
			nextPayment = string(registrations.PaymentRefundPending)
		}

		if _, err := tx.Exec(ctx, `
UPDATE registrations
   SET status = $2,
       payment_status = $3,
       cancelled_reason = $4,
       slot_released = TRUE,
       updated_at = now()
 WHERE id = $1`, id, string(params.To), nextPayment, params.Reason); err != nil {
			return fmt.Errorf("terminate registration: %w", err)
		}

		if !slotReleased {
			if _, err := tx.Exec(ctx, releaseSlotSQL, eventID); err != nil {
				return fmt.Errorf("release capacity slot: %w", err)
			}
		}

		if params.Refund != nil {
			if err := seedRefund(ctx, tx, id, params.Refund); err != nil {
				return err
			}
		}
		return nil
	})
}

// seedRefund snapshots the completed payment into a pending refund row. The
// percentage was fixed by the caller at cancellation time; the amount comes
// from the payment row read under the same transaction.
func seedRefund(ctx context.Context, tx pgx.Tx, registrationID string, seed *registrations.RefundSeed) error {
	var paymentID string
	var amountCents int64
	err := tx.QueryRow(ctx, `
SELECT id, amount_cents FROM payments
 WHERE registration_id = $1 AND status = 'completed'`, registrationID).Scan(&paymentID, &amountCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("seed refund: no completed payment for registration %s", registrationID)
	}
	if err != nil {
		return fmt.Errorf("seed refund: read payment: %w", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO refunds (ulid, payment_id, registration_id, status,
                     original_amount_cents, refund_percentage)
VALUES ($1, $2, $3, 'pending', $4, $5)`,
		seed.ULID, paymentID, registrationID, amountCents, seed.Percentage)
	if err != nil {
		return fmt.Errorf("seed refund: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) SetStatus(ctx context.Context, ulid string, from, to registrations.Status) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE registrations
   SET status = $3, updated_at = now()
 WHERE ulid = $1 AND status = $2`, ulid, string(from), string(to))
	if err != nil {
		return fmt.Errorf("set registration status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, ulid, fmt.Errorf("%w: expected %s", registrations.ErrInvalidTransition, from))
	}
	return nil
}

func (r *RegistrationRepository) ConfirmFromWaitlist(ctx context.Context, ulid string) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var id, eventID, status string
		err := tx.QueryRow(ctx, `
SELECT id, event_id, status FROM registrations
 WHERE ulid = $1
   FOR UPDATE`, ulid).Scan(&id, &eventID, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return registrations.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock registration: %w", err)
		}
		if registrations.Status(status) != registrations.StatusWaitlisted {
			return fmt.Errorf("%w: %s -> confirmed", registrations.ErrInvalidTransition, status)
		}

		// Waitlisted rows hold no slot; promotion claims one and can fail on
		// capacity like a fresh registration.
		tag, err := tx.Exec(ctx, claimSlotSQL, eventID)
		if err != nil {
			return fmt.Errorf("claim capacity slot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return registrations.ErrCapacityExceeded
		}

		if _, err := tx.Exec(ctx, `
UPDATE registrations
   SET status = 'confirmed', slot_released = FALSE, updated_at = now()
 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("confirm registration: %w", err)
		}
		return nil
	})
}

func (r *RegistrationRepository) MoveToWaitlist(ctx context.Context, ulid string) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var id, eventID, status string
		var slotReleased bool
		err := tx.QueryRow(ctx, `
SELECT id, event_id, status, slot_released FROM registrations
 WHERE ulid = $1
   FOR UPDATE`, ulid).Scan(&id, &eventID, &status, &slotReleased)
		if errors.Is(err, pgx.ErrNoRows) {
			return registrations.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock registration: %w", err)
		}
		if !registrations.Status(status).CanTransitionTo(registrations.StatusWaitlisted) {
			return fmt.Errorf("%w: %s -> waitlisted", registrations.ErrInvalidTransition, status)
		}

		// Waitlisted rows hold no slot; parking the registration gives its
		// slot back inside the same transaction.
		if _, err := tx.Exec(ctx, `
UPDATE registrations
   SET status = 'waitlisted', slot_released = TRUE, updated_at = now()
 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("waitlist registration: %w", err)
		}
		if !slotReleased {
			if _, err := tx.Exec(ctx, releaseSlotSQL, eventID); err != nil {
				return fmt.Errorf("release capacity slot: %w", err)
			}
		}
		return nil
	})
}

func (r *RegistrationRepository) SetPaymentStatus(ctx context.Context, ulid string, status registrations.PaymentStatus) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE registrations
   SET payment_status = $2, updated_at = now()
 WHERE ulid = $1`, ulid, string(status))
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registrations.ErrNotFound
	}
	return nil
}

func (r *RegistrationRepository) SetCheckedIn(ctx context.Context, ulid string, at time.Time) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE registrations
   SET checked_in_at = $2, updated_at = now()
 WHERE ulid = $1 AND checked_in_at IS NULL`, ulid, at.UTC())
	if err != nil {
		return fmt.Errorf("set checked in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, ulid, nil)
	}
	return nil
}

func (r *RegistrationRepository) ListActiveByTeam(ctx context.Context, teamID string) ([]registrations.Registration, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+registrationColumns+`
  FROM registrations
 WHERE team_id = $1
   AND status IN ('pending', 'confirmed', 'waitlisted')
 ORDER BY created_at`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team registrations: %w", err)
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

func (r *RegistrationRepository) ListByEventAndRound(ctx context.Context, eventID string, round int) ([]registrations.Registration, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+registrationColumns+`
  FROM registrations
 WHERE event_id = $1
   AND current_round = $2
   AND eliminated_in_round IS NULL
   AND status IN ('pending', 'confirmed', 'waitlisted')
 ORDER BY created_at`, eventID, round)
	if err != nil {
		return nil, fmt.Errorf("list round registrations: %w", err)
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

func (r *RegistrationRepository) AdvanceToRound(ctx context.Context, ulid string, toRound int) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE registrations
   SET current_round = $2,
       advanced_to_rounds = advanced_to_rounds || $2::int,
       eliminated_in_round = NULL,
       updated_at = now()
 WHERE ulid = $1
   AND NOT advanced_to_rounds @> ARRAY[$2::int]`, ulid, toRound)
	if err != nil {
		return fmt.Errorf("advance registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already advanced, or gone. Only the latter is an error.
		return r.missingOr(ctx, ulid, nil)
	}
	return nil
}

func (r *RegistrationRepository) Eliminate(ctx context.Context, ulid string, round int) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE registrations
   SET eliminated_in_round = $2, updated_at = now()
 WHERE ulid = $1
   AND eliminated_in_round IS NULL
   AND current_round <= $2
   AND NOT advanced_to_rounds @> ARRAY[$2::int]`, ulid, round)
	if err != nil {
		return fmt.Errorf("eliminate registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, ulid, nil)
	}
	return nil
}

func (r *RegistrationRepository) CountActive(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.queryer().QueryRow(ctx, `
SELECT registered_count FROM event_capacity WHERE event_id = $1`, eventID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return count, nil
}

// missingOr distinguishes "row absent" from "row present but the conditional
// update declined": absent maps to ErrNotFound, present returns fallback.
func (r *RegistrationRepository) missingOr(ctx context.Context, ulid string, fallback error) error {
	var exists bool
	if err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM registrations WHERE ulid = $1)`, ulid).Scan(&exists); err != nil {
		return fmt.Errorf("check registration exists: %w", err)
	}
	if !exists {
		return registrations.ErrNotFound
	}
	return fallback
}

type registrationRow struct {
	ID                 string
	ULID               string
	RegistrationNumber string
	EventID            string
	UserID             string
	TeamID             *string
	Status             string
	PaymentStatus      string
	CurrentRound       int
	EliminatedInRound  *int
	AdvancedToRounds   []int32
	CheckedInAt        pgtype.Timestamptz
	SlotReleased       bool
	CancelledReason    string
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

func scanRegistration(row pgx.Row) (*registrations.Registration, error) {
	var r registrationRow
	if err := row.Scan(
		&r.ID,
		&r.ULID,
		&r.RegistrationNumber,
		&r.EventID,
		&r.UserID,
		&r.TeamID,
		&r.Status,
		&r.PaymentStatus,
		&r.CurrentRound,
		&r.EliminatedInRound,
		&r.AdvancedToRounds,
		&r.CheckedInAt,
		&r.SlotReleased,
		&r.CancelledReason,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (r registrationRow) toDomain() *registrations.Registration {
	reg := &registrations.Registration{
		ID:                 r.ID,
		ULID:               r.ULID,
		RegistrationNumber: r.RegistrationNumber,
		EventID:            r.EventID,
		UserID:             r.UserID,
		TeamID:             r.TeamID,
		Status:             registrations.Status(r.Status),
		PaymentStatus:      registrations.PaymentStatus(r.PaymentStatus),
		CurrentRound:       r.CurrentRound,
		EliminatedInRound:  r.EliminatedInRound,
		SlotReleased:       r.SlotReleased,
		CancelledReason:    r.CancelledReason,
		CreatedAt:          r.CreatedAt.Time,
		UpdatedAt:          r.UpdatedAt.Time,
	}
	for _, n := range r.AdvancedToRounds {
		reg.AdvancedToRounds = append(reg.AdvancedToRounds, int(n))
	}
	if r.CheckedInAt.Valid {
		t := r.CheckedInAt.Time
		reg.CheckedIn = true
		reg.CheckedInAt = &t
	}
	return reg
}

func collectRegistrations(rows pgx.Rows) ([]registrations.Registration, error) {
	var out []registrations.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

var _ registrations.IdempotencyStore = (*RegistrationRepository)(nil)

func (r *RegistrationRepository) GetIdempotencyRecord(ctx context.Context, key string) (*registrations.IdempotencyRecord, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT key, request_hash, registration_ulid, created_at
  FROM idempotency_keys
 WHERE key = $1`, key)

	var record registrations.IdempotencyRecord
	var regULID pgtype.Text
	var created pgtype.Timestamptz
	if err := row.Scan(&record.Key, &record.RequestHash, &regULID, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if regULID.Valid {
		record.RegistrationULID = &regULID.String
	}
	record.CreatedAt = created.Time
	return &record, nil
}

func (r *RegistrationRepository) InsertIdempotencyRecord(ctx context.Context, record registrations.IdempotencyRecord) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO idempotency_keys (key, request_hash, registration_ulid)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`, record.Key, record.RequestHash, record.RegistrationULID)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) BindIdempotencyRecord(ctx context.Context, key, registrationULID string) error {
	_, err := r.queryer().Exec(ctx, `
UPDATE idempotency_keys
   SET registration_ulid = $2
 WHERE key = $1`, key, registrationULID)
	if err != nil {
		return fmt.Errorf("bind idempotency record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
