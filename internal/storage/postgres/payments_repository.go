package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ payments.Repository = (*PaymentRepository)(nil)

// Domain code references registrations by ULID; the payments table keys on
// the internal id, so every query joins registrations to translate.
const paymentSelect = `
SELECT p.id, p.ulid, r.ulid, p.gateway, p.order_id, p.transaction_id,
       p.amount_cents, p.currency, p.status, p.paid_at,
       p.refund_amount_cents, p.refunded_at, p.gateway_response,
       p.created_at, p.updated_at
  FROM payments p
  JOIN registrations r ON r.id = p.registration_id`

func (r *PaymentRepository) UpsertIntent(ctx context.Context, payment *payments.Payment) error {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO payments (ulid, registration_id, gateway, order_id, amount_cents, currency, status)
SELECT $1, reg.id, $3, $4, $5, $6, 'pending'
  FROM registrations reg
 WHERE reg.ulid = $2
ON CONFLICT (registration_id) DO UPDATE
   SET gateway = EXCLUDED.gateway,
       order_id = EXCLUDED.order_id,
       amount_cents = EXCLUDED.amount_cents,
       currency = EXCLUDED.currency,
       status = 'pending',
       transaction_id = NULL,
       updated_at = now()
 WHERE payments.status <> 'completed'
RETURNING id, ulid, created_at, updated_at`,
		payment.ULID,
		payment.RegistrationID,
		payment.Gateway,
		payment.OrderID,
		payment.AmountCents,
		payment.Currency,
	)
	var created, updated pgtype.Timestamptz
	err := row.Scan(&payment.ID, &payment.ULID, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the registration is gone or the payment already completed.
		if _, getErr := r.GetByRegistration(ctx, payment.RegistrationID); getErr == nil {
			return payments.ErrAlreadyPaid
		}
		return registrations.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("upsert payment intent: %w", err)
	}
	payment.Status = payments.StatusPending
	payment.CreatedAt = created.Time
	payment.UpdatedAt = updated.Time
	return nil
}

func (r *PaymentRepository) GetByULID(ctx context.Context, ulid string) (*payments.Payment, error) {
	return r.one(ctx, paymentSelect+` WHERE p.ulid = $1`, ulid)
}

func (r *PaymentRepository) GetByRegistration(ctx context.Context, registrationULID string) (*payments.Payment, error) {
	return r.one(ctx, paymentSelect+` WHERE r.ulid = $1`, registrationULID)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payments.Payment, error) {
	return r.one(ctx, paymentSelect+` WHERE p.order_id = $1`, orderID)
}

func (r *PaymentRepository) one(ctx context.Context, sql string, arg any) (*payments.Payment, error) {
	payment, err := scanPayment(r.queryer().QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payments.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// Complete is the convergence point of the verify and webhook paths. The
// completed flip, the registration update, and any terminal-refund seeding
// run under one transaction with both rows locked, so concurrent deliveries
// of the same confirmation serialize and all but the first observe a replay.
func (r *PaymentRepository) Complete(ctx context.Context, params payments.CompleteParams) (*payments.CompleteResult, error) {
	result := &payments.CompleteResult{}
	err := inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var (
			paymentID     string
			paymentStatus string
			regID         string
			regULID       string
			regStatus     string
		)
		err := tx.QueryRow(ctx, `
SELECT p.id, p.status, r.id, r.ulid, r.status
  FROM payments p
  JOIN registrations r ON r.id = p.registration_id
 WHERE p.order_id = $1
   FOR UPDATE OF p, r`, params.OrderID).Scan(&paymentID, &paymentStatus, &regID, &regULID, &regStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return payments.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}

		if paymentStatus == string(payments.StatusCompleted) {
			result.Replay = true
			result.RegistrationStatus = registrations.Status(regStatus)
			return nil
		}

		if _, err := tx.Exec(ctx, `
UPDATE payments
   SET status = 'completed',
       transaction_id = $2,
       paid_at = $3,
       gateway_response = $4,
       updated_at = now()
 WHERE id = $1`, paymentID, params.TransactionID, params.PaidAt.UTC(), params.GatewayResponse); err != nil {
			if isUniqueViolation(err) {
				// The transaction id is already attached to another payment;
				// a duplicate delivery arriving under a different order.
				return payments.ErrAlreadyProcessed
			}
			return fmt.Errorf("complete payment: %w", err)
		}

		current := registrations.Status(regStatus)
		result.RegistrationStatus = current

		if current.Terminal() {
			// Money arrived for a registration the user already closed.
			// Route it straight into the refund path.
			if params.TerminalRefund == nil {
				return fmt.Errorf("completion on terminal registration %s without refund seed", regULID)
			}
			if _, err := tx.Exec(ctx, `
UPDATE registrations SET payment_status = 'refund_pending', updated_at = now() WHERE id = $1`, regID); err != nil {
				return fmt.Errorf("set refund pending: %w", err)
			}
			if err := seedRefund(ctx, tx, regID, params.TerminalRefund); err != nil {
				return err
			}
			result.RefundSeeded = true
			return nil
		}

		next := current
		if current == registrations.StatusPending {
			next = registrations.StatusConfirmed
		}
		if _, err := tx.Exec(ctx, `
UPDATE registrations SET status = $2, payment_status = 'paid', updated_at = now() WHERE id = $1`,
			regID, string(next)); err != nil {
			return fmt.Errorf("confirm registration: %w", err)
		}
		result.RegistrationStatus = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment, err := r.GetByOrderID(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}
	result.Payment = payment
	return result, nil
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, orderID string, gatewayResponse []byte) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE payments
   SET status = 'failed', gateway_response = $2, updated_at = now()
 WHERE order_id = $1 AND status <> 'completed'`, orderID, gatewayResponse)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A completed payment is never demoted; a missing one is an error.
		if _, err := r.GetByOrderID(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]payments.Payment, error) {
	rows, err := r.queryer().Query(ctx,
		paymentSelect+`
 WHERE p.status = 'pending' AND p.created_at < $1
 ORDER BY p.created_at
 LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var out []payments.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*payments.Payment, error) {
	var payment payments.Payment
	var paidAt, refundedAt, created, updated pgtype.Timestamptz
	if err := row.Scan(
		&payment.ID,
		&payment.ULID,
		&payment.RegistrationID,
		&payment.Gateway,
		&payment.OrderID,
		&payment.TransactionID,
		&payment.AmountCents,
		&payment.Currency,
		&payment.Status,
		&paidAt,
		&payment.RefundAmountCents,
		&refundedAt,
		&payment.GatewayResponse,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		payment.PaidAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		payment.RefundedAt = &t
	}
	payment.CreatedAt = created.Time
	payment.UpdatedAt = updated.Time
	return &payment, nil
}
