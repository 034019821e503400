package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripora/booking-payments-backend/internal/config"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/services"
)

const testWebhookSecret = "test-webhook-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	db := &database.PostgresDB{DB: sqlxDB}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	gateway := services.NewRazorpayService(&config.RazorpayConfig{
		BaseURL:       "http://127.0.0.1:1",
		KeyID:         "rzp_test_key",
		KeySecret:     "test-key-secret",
		WebhookSecret: testWebhookSecret,
		Timeout:       time.Second,
	}, logger)

	bookingServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(bookingServer.Close)

	payments := database.NewPaymentRepository(sqlxDB, logger)
	refunds := database.NewRefundRepository(sqlxDB, logger)
	installments := database.NewInstallmentRepository(sqlxDB, logger)
	events := database.NewWebhookEventRepository(sqlxDB, logger)
	invoices := services.NewInvoiceService(database.NewInvoiceRepository(sqlxDB, logger), nil, logger)
	bookings := services.NewBookingServiceClient(&config.BookingServiceConfig{
		BaseURL: bookingServer.URL,
		Timeout: time.Second,
	}, logger)

	webhookService := services.NewWebhookService(
		db, payments, refunds, installments, events,
		gateway, invoices, bookings, &services.NoopEventPublisher{}, logger,
	)

	router := gin.New()
	router.POST("/api/v1/payments/webhook", NewWebhookHandler(webhookService, logger).HandleWebhook)

	return router, mock, func() { mockDB.Close() }
}

func TestHandleWebhook(t *testing.T) {
	t.Run("missing signature header rejected", func(t *testing.T) {
		router, _, cleanup := newWebhookRouter(t)
		defer cleanup()

		req := httptest.NewRequest("POST", "/api/v1/payments/webhook",
			bytes.NewReader([]byte(`{"id":"evt_1","event":"payment.captured"}`)))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "missing webhook signature")
	})

	t.Run("forged signature rejected", func(t *testing.T) {
		router, mock, cleanup := newWebhookRouter(t)
		defer cleanup()

		req := httptest.NewRequest("POST", "/api/v1/payments/webhook",
			bytes.NewReader([]byte(`{"id":"evt_1","event":"payment.captured"}`)))
		req.Header.Set("X-Razorpay-Signature", "forged")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery acknowledged with 200", func(t *testing.T) {
		router, mock, cleanup := newWebhookRouter(t)
		defer cleanup()

		body := []byte(`{"id":"evt_1","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":100000,"currency":"INR"}}}}`)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`SELECT \* FROM webhook_events`).
			WithArgs("evt_1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "gateway", "event_id", "event_type", "payload", "processed", "created_at",
			}).AddRow(uuid.New(), "RAZORPAY", "evt_1", "payment.captured", body, true, time.Now()))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/api/v1/payments/webhook", bytes.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", signBody(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ok")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
