package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// ErrRefundNotFound is returned when no refund transaction matches the lookup.
var ErrRefundNotFound = errors.New("refund transaction not found")

// RefundRepository handles refund transaction persistence
type RefundRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(db *sqlx.DB, logger *logrus.Logger) *RefundRepository {
	return &RefundRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a refund slice inside an open transaction
func (r *RefundRepository) Create(ctx context.Context, tx *sqlx.Tx, refund *models.RefundTransaction) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	now := time.Now()
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = now
	}
	refund.UpdatedAt = now

	query := `
		INSERT INTO refund_transactions (
			id, payment_transaction_id, gateway_refund_id,
			amount, status, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.ExecContext(ctx, query,
		refund.ID, refund.PaymentTransactionID, refund.GatewayRefundID,
		refund.Amount, refund.Status, refund.Reason, refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"refund_id":              refund.ID,
		"payment_transaction_id": refund.PaymentTransactionID,
		"amount":                 refund.Amount.StringFixed(2),
	}).Debug("Refund transaction created")

	return nil
}

// GetByGatewayRefundIDForUpdate locks and returns the refund slice for a
// gateway refund id inside an open transaction.
func (r *RefundRepository) GetByGatewayRefundIDForUpdate(ctx context.Context, tx *sqlx.Tx, gatewayRefundID string) (*models.RefundTransaction, error) {
	var refund models.RefundTransaction
	query := `SELECT * FROM refund_transactions WHERE gateway_refund_id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &refund, query, gatewayRefundID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to lock refund by gateway refund id: %w", err)
	}

	return &refund, nil
}

// GetByPaymentTransactionID returns all refund slices of a payment, oldest first
func (r *RefundRepository) GetByPaymentTransactionID(ctx context.Context, paymentTransactionID uuid.UUID) ([]*models.RefundTransaction, error) {
	var refunds []*models.RefundTransaction
	query := `
		SELECT * FROM refund_transactions
		WHERE payment_transaction_id = $1
		ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &refunds, query, paymentTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get refunds by payment transaction: %w", err)
	}

	return refunds, nil
}

// UpdateStatus moves a refund slice to a new status inside an open transaction
func (r *RefundRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.RefundTransactionStatus) error {
	query := `
		UPDATE refund_transactions
		SET status = $1, updated_at = $2
		WHERE id = $3`

	result, err := tx.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update refund status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check refund status update: %w", err)
	}
	if rows == 0 {
		return ErrRefundNotFound
	}

	return nil
}
