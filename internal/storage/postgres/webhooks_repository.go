package postgres

import (
	"context"
	"fmt"

	"github.com/entranthq/server/internal/domain/payments"
)

var _ payments.WebhookRepository = (*WebhookRepository)(nil)

// Record inserts the gateway event into the delivery ledger. A conflict on
// (gateway, event_id) means the event was delivered before; the caller skips
// processing.
func (r *WebhookRepository) Record(ctx context.Context, gateway, eventID string, payload []byte) (bool, error) {
	tag, err := r.queryer().Exec(ctx, `
INSERT INTO webhook_events (gateway, event_id, payload)
VALUES ($1, $2, $3)
ON CONFLICT (gateway, event_id) DO NOTHING`, gateway, eventID, payload)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
