package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entranthq/server/internal/domain/payments"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ payments.RefundRepository = (*RefundRepository)(nil)

const refundSelect = `
SELECT f.id, f.ulid, p.ulid, r.ulid, f.status, f.original_amount_cents,
       f.refund_percentage, f.refund_amount_cents, f.gateway_refund_id,
       f.processed_by, f.processed_at, f.failure_reason, f.attempts,
       f.created_at, f.updated_at
  FROM refunds f
  JOIN payments p ON p.id = f.payment_id
  JOIN registrations r ON r.id = f.registration_id`

func (r *RefundRepository) GetByULID(ctx context.Context, ulid string) (*payments.Refund, error) {
	refund, err := scanRefund(r.queryer().QueryRow(ctx, refundSelect+` WHERE f.ulid = $1`, ulid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payments.ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return refund, nil
}

func (r *RefundRepository) Reject(ctx context.Context, ulid, actorID string, at time.Time) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var registrationID string
		err := tx.QueryRow(ctx, `
UPDATE refunds
   SET status = 'rejected', processed_by = $2, processed_at = $3, updated_at = now()
 WHERE ulid = $1 AND status = 'pending'
RETURNING registration_id`, ulid, actorID, at.UTC()).Scan(&registrationID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOr(ctx, tx, ulid)
		}
		if err != nil {
			return fmt.Errorf("reject refund: %w", err)
		}

		// No money moves, so the registration's payment stands as paid.
		if _, err := tx.Exec(ctx, `
UPDATE registrations SET payment_status = 'paid', updated_at = now() WHERE id = $1`, registrationID); err != nil {
			return fmt.Errorf("restore payment status: %w", err)
		}
		return nil
	})
}

// MarkCompleted finalizes the refund and mirrors the amount onto the payment
// and the registration in the same transaction. Accepts pending and failed
// rows; failed means an earlier gateway attempt is being retried.
func (r *RefundRepository) MarkCompleted(ctx context.Context, params payments.CompleteRefundParams) error {
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var paymentID, registrationID string
		err := tx.QueryRow(ctx, `
UPDATE refunds
   SET status = 'completed',
       gateway_refund_id = $2,
       refund_amount_cents = $3,
       processed_by = $4,
       processed_at = $5,
       failure_reason = '',
       attempts = attempts + 1,
       updated_at = now()
 WHERE ulid = $1 AND status IN ('pending', 'failed')
RETURNING payment_id, registration_id`,
			params.ULID,
			params.GatewayRefundID,
			params.AmountCents,
			params.ProcessedBy,
			params.ProcessedAt.UTC(),
		).Scan(&paymentID, &registrationID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOr(ctx, tx, params.ULID)
		}
		if err != nil {
			return fmt.Errorf("complete refund: %w", err)
		}

		if _, err := tx.Exec(ctx, `
UPDATE payments
   SET refund_amount_cents = $2, refunded_at = $3, updated_at = now()
 WHERE id = $1`, paymentID, params.AmountCents, params.ProcessedAt.UTC()); err != nil {
			return fmt.Errorf("record refund on payment: %w", err)
		}

		if _, err := tx.Exec(ctx, `
UPDATE registrations SET payment_status = 'refunded', updated_at = now() WHERE id = $1`, registrationID); err != nil {
			return fmt.Errorf("record refund on registration: %w", err)
		}
		return nil
	})
}

func (r *RefundRepository) MarkFailed(ctx context.Context, ulid, reason string) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE refunds
   SET status = 'failed', failure_reason = $2, attempts = attempts + 1, updated_at = now()
 WHERE ulid = $1 AND status IN ('pending', 'failed')`, ulid, reason)
	if err != nil {
		return fmt.Errorf("mark refund failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, r.queryer(), ulid)
	}
	return nil
}

func (r *RefundRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]payments.Refund, error) {
	rows, err := r.queryer().Query(ctx,
		refundSelect+`
 WHERE f.status = 'failed' AND f.attempts < $1
 ORDER BY f.updated_at
 LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable refunds: %w", err)
	}
	defer rows.Close()

	var out []payments.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		out = append(out, *refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return out, nil
}

func (r *RefundRepository) missingOr(ctx context.Context, q queryer, ulid string) error {
	var exists bool
	if err := q.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM refunds WHERE ulid = $1)`, ulid).Scan(&exists); err != nil {
		return fmt.Errorf("check refund exists: %w", err)
	}
	if !exists {
		return payments.ErrRefundNotFound
	}
	return payments.ErrAlreadyProcessed
}

func scanRefund(row pgx.Row) (*payments.Refund, error) {
	var refund payments.Refund
	var processedAt, created, updated pgtype.Timestamptz
	if err := row.Scan(
		&refund.ID,
		&refund.ULID,
		&refund.PaymentID,
		&refund.RegistrationID,
		&refund.Status,
		&refund.OriginalAmountCents,
		&refund.RefundPercentage,
		&refund.RefundAmountCents,
		&refund.GatewayRefundID,
		&refund.ProcessedBy,
		&processedAt,
		&refund.FailureReason,
		&refund.Attempts,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		refund.ProcessedAt = &t
	}
	refund.CreatedAt = created.Time
	refund.UpdatedAt = updated.Time
	return &refund, nil
}
