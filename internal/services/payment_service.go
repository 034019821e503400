package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
	"github.com/tripora/booking-payments-backend/pkg/money"
)

// PaymentService orchestrates payment initiation and client-side verification.
// Settlement itself only ever happens through the webhook reconciler.
type PaymentService struct {
	db           database.DB
	payments     *database.PaymentRepository
	installments *database.InstallmentRepository
	gateway      PaymentGateway
	bookings     *BookingServiceClient
	idempotency  *IdempotencyGuard
	logger       *logrus.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	db database.DB,
	payments *database.PaymentRepository,
	installments *database.InstallmentRepository,
	gateway PaymentGateway,
	bookings *BookingServiceClient,
	idempotency *IdempotencyGuard,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		db:           db,
		payments:     payments,
		installments: installments,
		gateway:      gateway,
		bookings:     bookings,
		idempotency:  idempotency,
		logger:       logger,
	}
}

// Initiate opens a gateway order for a booking payment. At most one gateway
// order is ever created per idempotency key; retries of the same key replay
// the original response.
func (s *PaymentService) Initiate(ctx context.Context, userID uuid.UUID, idempotencyKey string, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	if idempotencyKey == "" {
		return nil, apperrors.Validation("Idempotency-Key header is required")
	}

	requestHash := HashRequest(req)

	// Replay path: a stored response means the order was already created.
	stored, storedHash, err := s.idempotency.Lookup(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if storedHash != requestHash {
			return nil, apperrors.Conflict("idempotency key reused with a different request")
		}
		var resp models.InitiatePaymentResponse
		if err := json.Unmarshal(stored, &resp); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "corrupt idempotency record", err)
		}
		return &resp, nil
	}

	// The transaction row is the correctness primitive; the stored response
	// above is only a fast path and may be missing after a partial failure.
	existing, err := s.payments.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil && !errors.Is(err, database.ErrPaymentNotFound) {
		return nil, err
	}
	if existing != nil {
		return s.replayExisting(existing)
	}

	claimed, err := money.FromString(req.Amount)
	if err != nil {
		return nil, apperrors.Validation("invalid amount")
	}
	if req.PaymentType != models.PaymentTypeFull && req.PaymentType != models.PaymentTypePart {
		return nil, apperrors.Validation("paymentType must be FULL or PART")
	}

	booking, err := s.bookings.FetchBooking(ctx, req.BookingID, userID)
	if err != nil {
		return nil, err
	}

	if req.Currency != booking.Currency {
		return nil, apperrors.Conflict("currency does not match booking")
	}
	if !claimed.Equal(booking.Amount) {
		return nil, apperrors.Conflict("amount does not match booking")
	}
	if booking.PaymentStatus == models.BookingPaymentStatusPaid {
		return nil, apperrors.InvalidState("booking is already fully paid")
	}

	// The claimed amount only gates tampering; the amount charged is always
	// resolved from booking and schedule state.
	payable, installmentNo, err := s.resolvePayable(ctx, booking, req)
	if err != nil {
		return nil, err
	}

	transactionID := newTransactionID()

	order, err := s.gateway.CreateOrder(ctx, money.ToMinorUnits(payable), booking.Currency, transactionID)
	if err != nil {
		// No transaction row is persisted when the gateway rejects the order.
		return nil, err
	}

	txn := &models.PaymentTransaction{
		TransactionID:   transactionID,
		BookingID:       req.BookingID,
		BookingPublicID: booking.BookingPublicID,
		UserID:          userID,
		Amount:          payable,
		Currency:        booking.Currency,
		PaymentType:     req.PaymentType,
		InstallmentNo:   installmentNo,
		Gateway:         models.GatewayName,
		GatewayOrderID:  order.ID,
		Status:          models.PaymentStatusInitiated,
		RefundAmount:    decimal.Zero,
		RefundStatus:    models.RefundStatusNone,
		IdempotencyKey:  idempotencyKey,
	}

	if err := s.payments.Create(ctx, txn); err != nil {
		if errors.Is(err, database.ErrDuplicateIdempotencyKey) {
			// Lost the race to a concurrent retry; the winner's order stands.
			winner, fetchErr := s.payments.GetByIdempotencyKey(ctx, idempotencyKey)
			if fetchErr != nil {
				return nil, fetchErr
			}
			return s.replayExisting(winner)
		}
		return nil, err
	}

	resp := &models.InitiatePaymentResponse{
		GatewayOrderID: order.ID,
		KeyID:          s.gateway.KeyID(),
		Amount:         payable.StringFixed(2),
		Currency:       booking.Currency,
	}

	if payload, err := json.Marshal(resp); err == nil {
		if storeErr := s.idempotency.Store(ctx, idempotencyKey, requestHash, payload); storeErr != nil {
			s.logger.WithError(storeErr).Warn("Failed to store idempotency record")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id":   transactionID,
		"booking_id":       req.BookingID,
		"gateway_order_id": order.ID,
		"amount":           payable.StringFixed(2),
		"payment_type":     req.PaymentType,
	}).Info("Payment initiated")

	return resp, nil
}

// Verify checks a client-submitted checkout confirmation. On success the
// gateway payment id is recorded and an INITIATED transaction advances to
// PENDING. It never settles a payment; only the webhook reconciler does.
func (s *PaymentService) Verify(ctx context.Context, req *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error) {
	if !s.gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		return nil, apperrors.InvalidSignature("payment signature verification failed")
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	txn, err := s.payments.GetByOrderIDForUpdate(ctx, tx, req.GatewayOrderID)
	if err != nil {
		if errors.Is(err, database.ErrPaymentNotFound) {
			return nil, apperrors.NotFound("no transaction for gateway order")
		}
		return nil, err
	}

	// Only INITIATED advances; a webhook may already have settled the row.
	if txn.Status == models.PaymentStatusInitiated {
		paymentID := req.GatewayPaymentID
		if err := s.payments.UpdateStatus(ctx, tx, txn.ID, models.PaymentStatusPending, &paymentID, nil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to commit verification", err)
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id":     txn.TransactionID,
		"gateway_order_id":   req.GatewayOrderID,
		"gateway_payment_id": req.GatewayPaymentID,
	}).Info("Payment signature verified")

	return &models.VerifyPaymentResponse{Status: "VERIFIED"}, nil
}

// resolvePayable computes the amount actually owed for this request
func (s *PaymentService) resolvePayable(ctx context.Context, booking *models.BookingDetails, req *models.InitiatePaymentRequest) (decimal.Decimal, *int, error) {
	if req.PaymentType == models.PaymentTypeFull {
		payable := booking.TotalPayableAmount.Sub(booking.TotalPaidAmount).Round(2)
		if !money.IsPositive(payable) {
			return decimal.Zero, nil, apperrors.InvalidState("nothing left to pay on booking")
		}
		return payable, nil, nil
	}

	if req.InstallmentNo == nil {
		return decimal.Zero, nil, apperrors.Validation("installmentNo is required for PART payments")
	}

	schedules, err := s.installments.GetSchedulesByBookingID(ctx, req.BookingID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	for _, schedule := range schedules {
		if schedule.InstallmentNo != *req.InstallmentNo {
			continue
		}
		if schedule.Status == models.InstallmentPaid {
			return decimal.Zero, nil, apperrors.Conflict("installment is already paid")
		}
		return schedule.DueAmount, req.InstallmentNo, nil
	}

	return decimal.Zero, nil, apperrors.NotFound(fmt.Sprintf("installment %d not found for booking", *req.InstallmentNo))
}

// replayExisting rebuilds the initiate response from a persisted transaction
func (s *PaymentService) replayExisting(txn *models.PaymentTransaction) (*models.InitiatePaymentResponse, error) {
	if txn.GatewayOrderID == "" {
		return nil, apperrors.Conflict("prior initiation for this key left no gateway order")
	}
	return &models.InitiatePaymentResponse{
		GatewayOrderID: txn.GatewayOrderID,
		KeyID:          s.gateway.KeyID(),
		Amount:         txn.Amount.StringFixed(2),
		Currency:       txn.Currency,
	}, nil
}

// newTransactionID generates a public transaction reference
func newTransactionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "txn_" + uuid.New().String()
	}
	return "txn_" + hex.EncodeToString(buf)
}
