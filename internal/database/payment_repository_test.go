package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripora/booking-payments-backend/internal/models"
)

func newPaymentRepoFixture(t *testing.T) (*PaymentRepository, *sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	repo := NewPaymentRepository(sqlxDB, logger)
	return repo, sqlxDB, mock, func() { mockDB.Close() }
}

func transactionColumns() []string {
	return []string{
		"id", "transaction_id", "booking_id", "booking_public_id", "user_id",
		"amount", "currency", "payment_type", "installment_no",
		"gateway", "gateway_order_id", "gateway_payment_id",
		"status", "failure_reason", "refund_amount", "refund_status",
		"idempotency_key", "created_at", "updated_at",
	}
}

func sampleTransaction() *models.PaymentTransaction {
	return &models.PaymentTransaction{
		TransactionID:   "txn_0123456789ab",
		BookingID:       uuid.New(),
		BookingPublicID: "BK-1001",
		UserID:          uuid.New(),
		Amount:          decimal.RequireFromString("1000.00"),
		Currency:        "INR",
		PaymentType:     models.PaymentTypeFull,
		Gateway:         models.GatewayName,
		GatewayOrderID:  "order_abc",
		Status:          models.PaymentStatusInitiated,
		RefundAmount:    decimal.Zero,
		RefundStatus:    models.RefundStatusNone,
		IdempotencyKey:  "key-1",
	}
}

func TestCreatePaymentTransaction(t *testing.T) {
	repo, _, mock, cleanup := newPaymentRepoFixture(t)
	defer cleanup()

	t.Run("Success", func(t *testing.T) {
		txn := sampleTransaction()

		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Create(context.Background(), txn)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, txn.ID)
		assert.False(t, txn.CreatedAt.IsZero())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Idempotency Key", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(context.Background(), sampleTransaction())
		assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(context.Background(), sampleTransaction())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create payment transaction")
	})
}

func TestGetByIdempotencyKey(t *testing.T) {
	repo, _, mock, cleanup := newPaymentRepoFixture(t)
	defer cleanup()

	t.Run("Success", func(t *testing.T) {
		id := uuid.New()
		now := time.Now()

		mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE idempotency_key`).
			WithArgs("key-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).AddRow(
				id, "txn_0123456789ab", uuid.New(), "BK-1001", uuid.New(),
				"1000.00", "INR", "FULL", nil,
				"RAZORPAY", "order_abc", nil,
				"INITIATED", nil, "0.00", "NONE",
				"key-1", now, now,
			))

		txn, err := repo.GetByIdempotencyKey(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, id, txn.ID)
		assert.Equal(t, models.PaymentStatusInitiated, txn.Status)
		assert.Equal(t, "1000", txn.Amount.String())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE idempotency_key`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(transactionColumns()))

		txn, err := repo.GetByIdempotencyKey(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
		assert.Nil(t, txn)
	})
}

func TestUpdateStatus(t *testing.T) {
	repo, sqlxDB, mock, cleanup := newPaymentRepoFixture(t)
	defer cleanup()

	id := uuid.New()
	paymentID := "pay_xyz"

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs("SUCCESS", paymentID, nil, sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := sqlxDB.Beginx()
		require.NoError(t, err)

		err = repo.UpdateStatus(context.Background(), tx, id, models.PaymentStatusSuccess, &paymentID, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No Matching Row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := sqlxDB.Beginx()
		require.NoError(t, err)

		err = repo.UpdateStatus(context.Background(), tx, id, models.PaymentStatusSuccess, &paymentID, nil)
		assert.ErrorIs(t, err, ErrPaymentNotFound)
		require.NoError(t, tx.Rollback())
	})
}

func TestGetSuccessfulByBookingPublicIDForUpdate(t *testing.T) {
	repo, sqlxDB, mock, cleanup := newPaymentRepoFixture(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(transactionColumns()).
		AddRow(
			uuid.New(), "txn_first", uuid.New(), "BK-1001", uuid.New(),
			"250.00", "INR", "PART", 1,
			"RAZORPAY", "order_1", "pay_1",
			"SUCCESS", nil, "0.00", "NONE",
			"key-1", now.Add(-time.Hour), now,
		).
		AddRow(
			uuid.New(), "txn_second", uuid.New(), "BK-1001", uuid.New(),
			"750.00", "INR", "PART", 2,
			"RAZORPAY", "order_2", "pay_2",
			"SUCCESS", nil, "0.00", "NONE",
			"key-2", now, now,
		)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM payment_transactions`).
		WithArgs("BK-1001", models.PaymentStatusSuccess).
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := sqlxDB.Beginx()
	require.NoError(t, err)

	txns, err := repo.GetSuccessfulByBookingPublicIDForUpdate(context.Background(), tx, "BK-1001")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "txn_first", txns[0].TransactionID)
	assert.Equal(t, "txn_second", txns[1].TransactionID)
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}
