package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
	"github.com/tripora/booking-payments-backend/pkg/money"
)

// RefundService allocates a requested refund across a booking's settled
// payments, oldest first. Allocation is all-or-nothing: if the amount cannot
// be fully placed, no slice is persisted.
type RefundService struct {
	db       database.DB
	payments *database.PaymentRepository
	refunds  *database.RefundRepository
	gateway  PaymentGateway
	logger   *logrus.Logger
}

// NewRefundService creates a new refund service
func NewRefundService(
	db database.DB,
	payments *database.PaymentRepository,
	refunds *database.RefundRepository,
	gateway PaymentGateway,
	logger *logrus.Logger,
) *RefundService {
	return &RefundService{
		db:       db,
		payments: payments,
		refunds:  refunds,
		gateway:  gateway,
		logger:   logger,
	}
}

// InitiateRefund requests gateway refunds covering the given amount and
// records one INITIATED refund slice per payment touched. The webhook
// reconciler later moves each slice to PROCESSED or FAILED.
func (s *RefundService) InitiateRefund(ctx context.Context, req *models.RefundRequest) (*models.RefundResponse, error) {
	requested, err := money.FromString(req.Amount)
	if err != nil {
		return nil, apperrors.Validation("invalid refund amount")
	}
	if !money.IsPositive(requested) {
		return nil, apperrors.Validation("refund amount must be positive")
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	txns, err := s.payments.GetSuccessfulByBookingPublicIDForUpdate(ctx, tx, req.BookingPublicID)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, apperrors.NotFound("no settled payments for booking")
	}

	// Transactions without a recorded gateway payment id cannot be refunded
	// at the gateway and are excluded from the refundable pool.
	refundable := money.FromMinorUnits(0)
	for _, txn := range txns {
		if txn.GatewayPaymentID == nil || *txn.GatewayPaymentID == "" {
			continue
		}
		refundable = refundable.Add(txn.RemainingRefundable())
	}
	if requested.GreaterThan(refundable) {
		return nil, apperrors.Validation("refund amount exceeds refundable balance")
	}

	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}

	remaining := requested
	for _, txn := range txns {
		if !money.IsPositive(remaining) {
			break
		}
		if txn.GatewayPaymentID == nil || *txn.GatewayPaymentID == "" {
			continue
		}
		balance := txn.RemainingRefundable()
		if !money.IsPositive(balance) {
			continue
		}

		slice := money.RoundHalfUp(money.Min(balance, remaining))

		gatewayRefund, err := s.gateway.CreateRefund(ctx, *txn.GatewayPaymentID, money.ToMinorUnits(slice))
		if err != nil {
			return nil, err
		}

		refundTxn := &models.RefundTransaction{
			PaymentTransactionID: txn.ID,
			GatewayRefundID:      gatewayRefund.ID,
			Amount:               slice,
			Status:               models.RefundTxnInitiated,
			Reason:               reason,
		}
		if err := s.refunds.Create(ctx, tx, refundTxn); err != nil {
			return nil, err
		}

		newRefundAmount := txn.RefundAmount.Add(slice).Round(2)
		if err := s.payments.UpdateRefundState(ctx, tx, txn.ID, newRefundAmount, models.RefundStatusInitiated); err != nil {
			return nil, err
		}

		remaining = remaining.Sub(slice).Round(2)

		s.logger.WithFields(logrus.Fields{
			"transaction_id":    txn.TransactionID,
			"gateway_refund_id": gatewayRefund.ID,
			"slice":             slice.StringFixed(2),
		}).Info("Refund slice allocated")
	}

	if money.IsPositive(remaining) {
		// Rollback discards every slice; partial allocation never persists.
		return nil, apperrors.Validation("refund amount could not be fully allocated")
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to commit refund allocation", err)
	}

	return &models.RefundResponse{
		Status:         string(models.RefundStatusInitiated),
		RefundedAmount: requested.StringFixed(2),
	}, nil
}
