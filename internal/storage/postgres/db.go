package postgres

import (
	"context"
	"fmt"

	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/entranthq/server/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ storage.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres repository: pool is nil")
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Events() events.Repository {
	return &EventRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Registrations() registrations.Repository {
	return &RegistrationRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) RegistrationIdempotency() registrations.IdempotencyStore {
	return &RegistrationRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Teams() teams.Repository {
	return &TeamRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Payments() payments.Repository {
	return &PaymentRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Refunds() payments.RefundRepository {
	return &RefundRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Webhooks() payments.WebhookRepository {
	return &WebhookRepository{pool: r.pool, tx: r.tx}
}

type EventRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type RegistrationRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type TeamRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type PaymentRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type RefundRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type WebhookRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *EventRepository) queryer() queryer        { return pick(r.pool, r.tx) }
func (r *RegistrationRepository) queryer() queryer { return pick(r.pool, r.tx) }
func (r *TeamRepository) queryer() queryer         { return pick(r.pool, r.tx) }
func (r *PaymentRepository) queryer() queryer      { return pick(r.pool, r.tx) }
func (r *RefundRepository) queryer() queryer       { return pick(r.pool, r.tx) }
func (r *WebhookRepository) queryer() queryer      { return pick(r.pool, r.tx) }

func pick(pool *pgxpool.Pool, tx pgx.Tx) queryer {
	if tx != nil {
		return tx
	}
	return pool
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// inTx runs fn inside a transaction. When the repository is already bound to
// an outer transaction, fn joins it instead of opening a nested one.
func inTx(ctx context.Context, pool *pgxpool.Pool, tx pgx.Tx, fn func(pgx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	inner, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(inner); err != nil {
		_ = inner.Rollback(ctx)
		return err
	}
	if err := inner.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
