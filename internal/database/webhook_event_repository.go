package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// WebhookEventRepository handles the webhook idempotency ledger
type WebhookEventRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *sqlx.DB, logger *logrus.Logger) *WebhookEventRepository {
	return &WebhookEventRepository{
		db:     db,
		logger: logger,
	}
}

// InsertIgnoreDuplicate records an inbound event id, doing nothing if a row
// for it already exists. Runs inside the caller's transaction so the insert
// and the processed check share one snapshot.
func (r *WebhookEventRepository) InsertIgnoreDuplicate(ctx context.Context, tx *sqlx.Tx, gateway, eventID, eventType string, payload json.RawMessage) error {
	query := `
		INSERT INTO webhook_events (id, gateway, event_id, event_type, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, uuid.New(), gateway, eventID, eventType, payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	return nil
}

// GetForUpdate locks the ledger row for an event id and returns it. A second
// delivery of the same event blocks here until the first one commits, then
// observes processed = true.
func (r *WebhookEventRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	query := `SELECT * FROM webhook_events WHERE event_id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &event, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock webhook event: %w", err)
	}

	return &event, nil
}

// MarkProcessed flips the processed flag inside the caller's transaction
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	query := `UPDATE webhook_events SET processed = TRUE WHERE event_id = $1`

	_, err := tx.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	r.logger.WithField("event_id", eventID).Debug("Webhook event marked processed")

	return nil
}
