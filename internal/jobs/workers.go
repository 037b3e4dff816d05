package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entranthq/server/internal/config"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
)

type RefundRetryArgs struct{}

func (RefundRetryArgs) Kind() string { return JobKindRefundRetry }

// RefundRetryWorker re-drives approved refunds whose gateway call failed.
// Each retry reuses the refund's idempotency key, so a retry that races a
// slow first attempt cannot double-refund.
type RefundRetryWorker struct {
	river.WorkerDefaults[RefundRetryArgs]
	Payments *payments.Service
	Config   config.JobsConfig
	Logger   *slog.Logger
}

func (RefundRetryWorker) Kind() string { return JobKindRefundRetry }

func (w RefundRetryWorker) Work(ctx context.Context, job *river.Job[RefundRetryArgs]) error {
	if w.Payments == nil {
		return fmt.Errorf("payments service not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAttempts := w.Config.RefundRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = RefundRetryMaxAttempts
	}
	batch := w.Config.RefundRetryBatch
	if batch <= 0 {
		batch = 50
	}

	start := time.Now()
	retried, err := w.Payments.RetryFailedRefunds(ctx, maxAttempts, batch)
	if err != nil {
		return fmt.Errorf("retry failed refunds: %w", err)
	}

	logger.Info("refund retry sweep completed",
		"attempt", job.Attempt,
		"retried", retried,
		"duration_seconds", time.Since(start).Seconds(),
	)
	return nil
}

type PaymentReconcileArgs struct{}

func (PaymentReconcileArgs) Kind() string { return JobKindPaymentReconcile }

// PaymentReconcileWorker flags payments stuck in pending past the configured
// age. A stuck pending payment usually means a webhook was lost; the flagged
// list is the operator's cue to query the gateway.
type PaymentReconcileWorker struct {
	river.WorkerDefaults[PaymentReconcileArgs]
	Payments *payments.Service
	Config   config.JobsConfig
	Logger   *slog.Logger
}

func (PaymentReconcileWorker) Kind() string { return JobKindPaymentReconcile }

func (w PaymentReconcileWorker) Work(ctx context.Context, job *river.Job[PaymentReconcileArgs]) error {
	if w.Payments == nil {
		return fmt.Errorf("payments service not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	age := w.Config.StalePaymentAge
	if age <= 0 {
		age = 30 * time.Minute
	}

	stale, err := w.Payments.ReconcileStalePayments(ctx, age, 200)
	if err != nil {
		return fmt.Errorf("reconcile stale payments: %w", err)
	}
	for range stale {
		metrics.StalePaymentsFlagged.Inc()
	}

	logger.Info("payment reconciliation sweep completed",
		"attempt", job.Attempt,
		"stale", len(stale),
	)
	return nil
}

type WebhookLedgerCleanupArgs struct{}

func (WebhookLedgerCleanupArgs) Kind() string { return JobKindWebhookLedgerCleanup }

// WebhookLedgerCleanupWorker trims old rows from the webhook dedup ledger.
// Entries only need to outlive the gateway's redelivery horizon; past that
// they are dead weight.
type WebhookLedgerCleanupWorker struct {
	river.WorkerDefaults[WebhookLedgerCleanupArgs]
	Pool   *pgxpool.Pool
	Config config.JobsConfig
	Logger *slog.Logger
}

func (WebhookLedgerCleanupWorker) Kind() string { return JobKindWebhookLedgerCleanup }

func (w WebhookLedgerCleanupWorker) Work(ctx context.Context, job *river.Job[WebhookLedgerCleanupArgs]) error {
	if w.Pool == nil {
		return fmt.Errorf("database pool not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := w.Config.WebhookLedgerRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	const deleteQuery = `DELETE FROM webhook_events WHERE received_at < $1`
	result, err := w.Pool.Exec(ctx, deleteQuery, time.Now().UTC().Add(-retention))
	if err != nil {
		return fmt.Errorf("delete expired webhook ledger rows: %w", err)
	}

	logger.Info("webhook ledger cleanup completed",
		"attempt", job.Attempt,
		"deleted", result.RowsAffected(),
	)
	return nil
}

// NewWorkers registers every worker on a fresh registry.
func NewWorkers(paymentsService *payments.Service, pool *pgxpool.Pool, cfg config.JobsConfig, logger *slog.Logger) (*river.Workers, error) {
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, RefundRetryWorker{Payments: paymentsService, Config: cfg, Logger: logger}); err != nil {
		return nil, fmt.Errorf("register refund retry worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, PaymentReconcileWorker{Payments: paymentsService, Config: cfg, Logger: logger}); err != nil {
		return nil, fmt.Errorf("register payment reconcile worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, WebhookLedgerCleanupWorker{Pool: pool, Config: cfg, Logger: logger}); err != nil {
		return nil, fmt.Errorf("register webhook ledger cleanup worker: %w", err)
	}
	return workers, nil
}
