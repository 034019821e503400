package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// ErrPaymentNotFound is returned when no payment transaction matches the lookup.
var ErrPaymentNotFound = errors.New("payment transaction not found")

// ErrDuplicateIdempotencyKey is returned when an insert loses the race on the
// idempotency_key unique constraint.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PaymentRepository handles payment transaction persistence
type PaymentRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new payment transaction. When two requests race on the
// same idempotency key, the loser gets ErrDuplicateIdempotencyKey and must
// re-fetch the winner's row.
func (r *PaymentRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	query := `
		INSERT INTO payment_transactions (
			id, transaction_id, booking_id, booking_public_id, user_id,
			amount, currency, payment_type, installment_no,
			gateway, gateway_order_id, gateway_payment_id,
			status, failure_reason, refund_amount, refund_status,
			idempotency_key, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19
		)`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.TransactionID, txn.BookingID, txn.BookingPublicID, txn.UserID,
		txn.Amount, txn.Currency, txn.PaymentType, txn.InstallmentNo,
		txn.Gateway, txn.GatewayOrderID, txn.GatewayPaymentID,
		txn.Status, txn.FailureReason, txn.RefundAmount, txn.RefundStatus,
		txn.IdempotencyKey, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"transaction_id": txn.TransactionID,
		"booking_id":     txn.BookingID,
		"amount":         txn.Amount.StringFixed(2),
	}).Debug("Payment transaction created")

	return nil
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE idempotency_key = $1`

	err := r.db.GetContext(ctx, &txn, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by idempotency key: %w", err)
	}

	return &txn, nil
}

// GetByTransactionID retrieves a transaction by its public transaction id
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE transaction_id = $1`

	err := r.db.GetContext(ctx, &txn, query, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by transaction id: %w", err)
	}

	return &txn, nil
}

// GetByOrderIDForUpdate locks and returns the transaction for a gateway
// order id inside an open transaction. Concurrent webhook deliveries for
// the same order serialize on this lock.
func (r *PaymentRepository) GetByOrderIDForUpdate(ctx context.Context, tx *sqlx.Tx, orderID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE gateway_order_id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &txn, query, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to lock payment by order id: %w", err)
	}

	return &txn, nil
}

// GetByIDForUpdate locks and returns a transaction by primary key inside an
// open transaction.
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &txn, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to lock payment by id: %w", err)
	}

	return &txn, nil
}

// GetByGatewayPaymentIDForUpdate locks and returns the transaction carrying
// a gateway payment id, used by refund webhook reconciliation.
func (r *PaymentRepository) GetByGatewayPaymentIDForUpdate(ctx context.Context, tx *sqlx.Tx, paymentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE gateway_payment_id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &txn, query, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to lock payment by gateway payment id: %w", err)
	}

	return &txn, nil
}

// GetSuccessfulByBookingPublicIDForUpdate locks all SUCCESS transactions of
// a booking, oldest first. Refund allocation walks them in this order.
func (r *PaymentRepository) GetSuccessfulByBookingPublicIDForUpdate(ctx context.Context, tx *sqlx.Tx, bookingPublicID string) ([]*models.PaymentTransaction, error) {
	var txns []*models.PaymentTransaction
	query := `
		SELECT * FROM payment_transactions
		WHERE booking_public_id = $1 AND status = $2
		ORDER BY created_at ASC
		FOR UPDATE`

	err := tx.SelectContext(ctx, &txns, query, bookingPublicID, models.PaymentStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to lock successful payments for booking: %w", err)
	}

	return txns, nil
}

// UpdateStatus moves a transaction to a new status inside an open transaction
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.PaymentStatus, gatewayPaymentID *string, failureReason *string) error {
	query := `
		UPDATE payment_transactions
		SET status = $1,
		    gateway_payment_id = COALESCE($2, gateway_payment_id),
		    failure_reason = $3,
		    updated_at = $4
		WHERE id = $5`

	result, err := tx.ExecContext(ctx, query, status, gatewayPaymentID, failureReason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check payment status update: %w", err)
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

// UpdateRefundState writes the rolled-up refund amount and status of a
// transaction inside an open transaction.
func (r *PaymentRepository) UpdateRefundState(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, refundAmount decimal.Decimal, refundStatus models.RefundStatus) error {
	query := `
		UPDATE payment_transactions
		SET refund_amount = $1, refund_status = $2, updated_at = $3
		WHERE id = $4`

	result, err := tx.ExecContext(ctx, query, refundAmount, refundStatus, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update refund state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check refund state update: %w", err)
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}

	return nil
}
