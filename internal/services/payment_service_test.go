package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/config"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
)

type paymentFixture struct {
	service *PaymentService
	gateway *stubGateway
	mock    sqlmock.Sqlmock
	cleanup func()
}

func newPaymentFixture(t *testing.T, bookingHandler http.HandlerFunc) *paymentFixture {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	db := &database.PostgresDB{DB: sqlxDB}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	server := httptest.NewServer(bookingHandler)

	gateway := newStubGateway()
	payments := database.NewPaymentRepository(sqlxDB, logger)
	installments := database.NewInstallmentRepository(sqlxDB, logger)
	idempotencyRepo := database.NewIdempotencyRepository(sqlxDB, logger)
	guard := NewIdempotencyGuard(idempotencyRepo, nil, logger)
	bookings := NewBookingServiceClient(&config.BookingServiceConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, logger)

	service := NewPaymentService(db, payments, installments, gateway, bookings, guard, logger)

	return &paymentFixture{
		service: service,
		gateway: gateway,
		mock:    mock,
		cleanup: func() {
			server.Close()
			mockDB.Close()
		},
	}
}

func bookingResponse(bookingID uuid.UUID, payable, paid string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                   bookingID,
			"bookingPublicId":      "BK-1001",
			"amount":               payable,
			"currency":             "INR",
			"payment_status":       "PENDING",
			"total_payable_amount": payable,
			"total_paid_amount":    paid,
		})
	}
}

func paymentColumns() []string {
	return []string{
		"id", "transaction_id", "booking_id", "booking_public_id", "user_id",
		"amount", "currency", "payment_type", "installment_no",
		"gateway", "gateway_order_id", "gateway_payment_id",
		"status", "failure_reason", "refund_amount", "refund_status",
		"idempotency_key", "created_at", "updated_at",
	}
}

func idempotencyColumns() []string {
	return []string{"key", "request_hash", "response", "created_at"}
}

func expectNoPriorState(f *paymentFixture, key string) {
	f.mock.ExpectQuery(`SELECT \* FROM idempotency_records`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(idempotencyColumns()))
	f.mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE idempotency_key`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(paymentColumns()))
}

func TestInitiatePayment(t *testing.T) {
	bookingID := uuid.New()
	userID := uuid.New()

	t.Run("full payment opens one gateway order", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-1")
		f.mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectExec(`INSERT INTO idempotency_records`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		resp, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.NoError(t, err)
		assert.Equal(t, "order_stub001", resp.GatewayOrderID)
		assert.Equal(t, "rzp_test_key", resp.KeyID)
		assert.Equal(t, "1000.00", resp.Amount)
		assert.Equal(t, "INR", resp.Currency)

		require.Len(t, f.gateway.orders, 1)
		assert.Equal(t, int64(100000), f.gateway.orders[0].AmountMinorUnits)

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("stored response replayed for repeated key", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		req := &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		}
		stored, err := json.Marshal(&models.InitiatePaymentResponse{
			GatewayOrderID: "order_orig",
			KeyID:          "rzp_test_key",
			Amount:         "1000.00",
			Currency:       "INR",
		})
		require.NoError(t, err)

		f.mock.ExpectQuery(`SELECT \* FROM idempotency_records`).
			WithArgs("key-1").
			WillReturnRows(sqlmock.NewRows(idempotencyColumns()).
				AddRow("key-1", HashRequest(req), stored, time.Now()))

		resp, err := f.service.Initiate(context.Background(), userID, "key-1", req)
		require.NoError(t, err)
		assert.Equal(t, "order_orig", resp.GatewayOrderID)
		assert.Empty(t, f.gateway.orders, "no new gateway order on replay")

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("key reuse with different request conflicts", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		f.mock.ExpectQuery(`SELECT \* FROM idempotency_records`).
			WithArgs("key-1").
			WillReturnRows(sqlmock.NewRows(idempotencyColumns()).
				AddRow("key-1", "some-other-hash", []byte(`{}`), time.Now()))

		_, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "500.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	})

	t.Run("missing idempotency key rejected", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		_, err := f.service.Initiate(context.Background(), userID, "", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("currency mismatch conflicts", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-1")

		_, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "USD",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
		assert.Empty(t, f.gateway.orders)
	})

	t.Run("full payment on partially paid booking charges remainder", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "250.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-6")
		f.mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectExec(`INSERT INTO idempotency_records`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// The client claims the booking's recorded amount; the order is
		// opened for what is actually still owed.
		resp, err := f.service.Initiate(context.Background(), userID, "key-6", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.NoError(t, err)
		assert.Equal(t, "750.00", resp.Amount)

		require.Len(t, f.gateway.orders, 1)
		assert.Equal(t, int64(75000), f.gateway.orders[0].AmountMinorUnits)

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("amount mismatch conflicts", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-1")

		_, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "999.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	})

	t.Run("fully paid booking rejected", func(t *testing.T) {
		f := newPaymentFixture(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":                   bookingID,
				"bookingPublicId":      "BK-1001",
				"amount":               "1000.00",
				"currency":             "INR",
				"payment_status":       models.BookingPaymentStatusPaid,
				"total_payable_amount": "1000.00",
				"total_paid_amount":    "1000.00",
			})
		})
		defer f.cleanup()

		expectNoPriorState(f, "key-1")

		_, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidState))
	})

	t.Run("unknown booking is not found", func(t *testing.T) {
		f := newPaymentFixture(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		defer f.cleanup()

		expectNoPriorState(f, "key-1")

		_, err := f.service.Initiate(context.Background(), userID, "key-1", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	})

	t.Run("part payment takes installment due amount", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "250.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-2")

		now := time.Now()
		f.mock.ExpectQuery(`SELECT \* FROM installment_schedules`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows(scheduleColumns()).
				AddRow(uuid.New(), bookingID, "BK-1001", 1, "250.00", now, "PAID", now).
				AddRow(uuid.New(), bookingID, "BK-1001", 2, "750.00", now, "PENDING", now))

		f.mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectExec(`INSERT INTO idempotency_records`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		installmentNo := 2
		resp, err := f.service.Initiate(context.Background(), userID, "key-2", &models.InitiatePaymentRequest{
			BookingID:     bookingID,
			Amount:        "1000.00",
			Currency:      "INR",
			PaymentType:   models.PaymentTypePart,
			InstallmentNo: &installmentNo,
		})
		require.NoError(t, err)
		assert.Equal(t, "750.00", resp.Amount)

		require.Len(t, f.gateway.orders, 1)
		assert.Equal(t, int64(75000), f.gateway.orders[0].AmountMinorUnits)
	})

	t.Run("already paid installment conflicts", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "250.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-3")

		now := time.Now()
		f.mock.ExpectQuery(`SELECT \* FROM installment_schedules`).
			WillReturnRows(sqlmock.NewRows(scheduleColumns()).
				AddRow(uuid.New(), bookingID, "BK-1001", 1, "250.00", now, "PAID", now))

		installmentNo := 1
		_, err := f.service.Initiate(context.Background(), userID, "key-3", &models.InitiatePaymentRequest{
			BookingID:     bookingID,
			Amount:        "1000.00",
			Currency:      "INR",
			PaymentType:   models.PaymentTypePart,
			InstallmentNo: &installmentNo,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	})

	t.Run("gateway failure persists nothing", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		f.gateway.orderErr = apperrors.Upstream("payment gateway unreachable", nil)

		expectNoPriorState(f, "key-4")

		_, err := f.service.Initiate(context.Background(), userID, "key-4", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUpstream))

		// No INSERT expectations were declared; any insert would fail the mock.
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("losing an insert race replays the winner", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		expectNoPriorState(f, "key-5")

		f.mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnError(&pq.Error{Code: "23505"})

		now := time.Now()
		f.mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE idempotency_key`).
			WithArgs("key-5").
			WillReturnRows(sqlmock.NewRows(paymentColumns()).AddRow(
				uuid.New(), "txn_winner", bookingID, "BK-1001", userID,
				"1000.00", "INR", "FULL", nil,
				"RAZORPAY", "order_winner", nil,
				"INITIATED", nil, "0.00", "NONE",
				"key-5", now, now,
			))

		resp, err := f.service.Initiate(context.Background(), userID, "key-5", &models.InitiatePaymentRequest{
			BookingID:   bookingID,
			Amount:      "1000.00",
			Currency:    "INR",
			PaymentType: models.PaymentTypeFull,
		})
		require.NoError(t, err)
		assert.Equal(t, "order_winner", resp.GatewayOrderID)
	})
}

func TestVerifyPayment(t *testing.T) {
	bookingID := uuid.New()
	userID := uuid.New()

	t.Run("valid signature advances to pending", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		signature := f.gateway.signHex("order_abc|pay_xyz", f.gateway.keySecret)

		now := time.Now()
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE gateway_order_id`).
			WithArgs("order_abc").
			WillReturnRows(sqlmock.NewRows(paymentColumns()).AddRow(
				uuid.New(), "txn_abc", bookingID, "BK-1001", userID,
				"1000.00", "INR", "FULL", nil,
				"RAZORPAY", "order_abc", nil,
				"INITIATED", nil, "0.00", "NONE",
				"key-1", now, now,
			))
		f.mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		resp, err := f.service.Verify(context.Background(), &models.VerifyPaymentRequest{
			GatewayOrderID:   "order_abc",
			GatewayPaymentID: "pay_xyz",
			Signature:        signature,
		})
		require.NoError(t, err)
		assert.Equal(t, "VERIFIED", resp.Status)

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("settled transaction left untouched", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		signature := f.gateway.signHex("order_abc|pay_xyz", f.gateway.keySecret)

		now := time.Now()
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE gateway_order_id`).
			WillReturnRows(sqlmock.NewRows(paymentColumns()).AddRow(
				uuid.New(), "txn_abc", bookingID, "BK-1001", userID,
				"1000.00", "INR", "FULL", nil,
				"RAZORPAY", "order_abc", "pay_xyz",
				"SUCCESS", nil, "0.00", "NONE",
				"key-1", now, now,
			))
		f.mock.ExpectCommit()

		resp, err := f.service.Verify(context.Background(), &models.VerifyPaymentRequest{
			GatewayOrderID:   "order_abc",
			GatewayPaymentID: "pay_xyz",
			Signature:        signature,
		})
		require.NoError(t, err)
		assert.Equal(t, "VERIFIED", resp.Status)

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("bad signature mutates nothing", func(t *testing.T) {
		f := newPaymentFixture(t, bookingResponse(bookingID, "1000.00", "0.00"))
		defer f.cleanup()

		_, err := f.service.Verify(context.Background(), &models.VerifyPaymentRequest{
			GatewayOrderID:   "order_abc",
			GatewayPaymentID: "pay_xyz",
			Signature:        "forged",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidSignature))

		// No DB expectations declared: signature failure touches nothing.
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}
