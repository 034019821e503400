package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// WebhookService is the settlement state machine. Every inbound gateway
// event is authenticated, deduplicated by event id, and applied under row
// locks in a single database transaction; document generation, booking
// write-back, and notifications run only after that transaction commits.
type WebhookService struct {
	db           database.DB
	payments     *database.PaymentRepository
	refunds      *database.RefundRepository
	installments *database.InstallmentRepository
	events       *database.WebhookEventRepository
	gateway      PaymentGateway
	invoices     *InvoiceService
	bookings     *BookingServiceClient
	publisher    EventPublisher
	logger       *logrus.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	db database.DB,
	payments *database.PaymentRepository,
	refunds *database.RefundRepository,
	installments *database.InstallmentRepository,
	events *database.WebhookEventRepository,
	gateway PaymentGateway,
	invoices *InvoiceService,
	bookings *BookingServiceClient,
	publisher EventPublisher,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		db:           db,
		payments:     payments,
		refunds:      refunds,
		installments: installments,
		events:       events,
		gateway:      gateway,
		invoices:     invoices,
		bookings:     bookings,
		publisher:    publisher,
		logger:       logger,
	}
}

// ProcessWebhook handles one inbound gateway notification. Replays of an
// already-processed event id are acknowledged without re-applying effects.
func (s *WebhookService) ProcessWebhook(ctx context.Context, body []byte, signature string) error {
	// Signature check comes before any parsing of untrusted fields.
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		return apperrors.InvalidSignature("webhook signature verification failed")
	}

	event, err := models.ParseGatewayEvent(body)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "malformed webhook payload", err)
	}
	if event.EventID == "" {
		return apperrors.Validation("webhook event is missing an event id")
	}

	log := s.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.EventType,
	})

	tx, err := s.db.Beginx()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.events.InsertIgnoreDuplicate(ctx, tx, models.GatewayName, event.EventID, event.EventType, event.Raw); err != nil {
		return err
	}

	// A concurrent delivery of the same event id blocks on this lock until
	// the first one commits, then sees processed = true.
	ledger, err := s.events.GetForUpdate(ctx, tx, event.EventID)
	if err != nil {
		return err
	}
	if ledger.Processed {
		log.Info("Duplicate webhook delivery acknowledged")
		return tx.Commit()
	}

	var after []func(context.Context)

	switch event.EventType {
	case models.EventPaymentCaptured:
		after, err = s.applyPaymentCaptured(ctx, tx, event)
	case models.EventPaymentFailed:
		after, err = s.applyPaymentFailed(ctx, tx, event)
	case models.EventRefundProcessed:
		after, err = s.applyRefundProcessed(ctx, tx, event)
	case models.EventRefundFailed:
		after, err = s.applyRefundFailed(ctx, tx, event)
	default:
		// Acknowledge unhandled event types so the gateway stops redelivering.
		log.Info("Unhandled webhook event type acknowledged")
	}
	if err != nil {
		return err
	}

	if err := s.events.MarkProcessed(ctx, tx, event.EventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "failed to commit webhook effects", err)
	}

	// Side jobs run outside the lock-holding transaction. Each is
	// best-effort and independently retryable.
	for _, job := range after {
		job(ctx)
	}

	log.Info("Webhook event processed")
	return nil
}

// applyPaymentCaptured settles a payment and advances its installment
func (s *WebhookService) applyPaymentCaptured(ctx context.Context, tx *sqlx.Tx, event *models.GatewayEvent) ([]func(context.Context), error) {
	if event.Payment == nil || event.Payment.OrderID == "" {
		return nil, apperrors.Validation("payment.captured event is missing payment entity")
	}

	txn, err := s.payments.GetByOrderIDForUpdate(ctx, tx, event.Payment.OrderID)
	if err != nil {
		if errors.Is(err, database.ErrPaymentNotFound) {
			return nil, apperrors.NotFound("no transaction for captured order")
		}
		return nil, err
	}

	if txn.Status == models.PaymentStatusSuccess {
		return nil, nil
	}

	paymentID := event.Payment.PaymentID
	if err := s.payments.UpdateStatus(ctx, tx, txn.ID, models.PaymentStatusSuccess, &paymentID, nil); err != nil {
		return nil, err
	}
	txn.Status = models.PaymentStatusSuccess
	txn.GatewayPaymentID = &paymentID

	if txn.InstallmentNo != nil {
		schedule, err := s.installments.GetScheduleForUpdate(ctx, tx, txn.BookingID, *txn.InstallmentNo)
		if err != nil {
			if errors.Is(err, database.ErrScheduleNotFound) {
				s.logger.WithFields(logrus.Fields{
					"booking_id":     txn.BookingID,
					"installment_no": *txn.InstallmentNo,
				}).Warn("Settled installment payment has no schedule row")
			} else {
				return nil, err
			}
		} else if schedule.Status == models.InstallmentPending {
			if err := s.installments.MarkPaid(ctx, tx, schedule.ID); err != nil {
				return nil, err
			}
		}
	}

	settled := *txn
	after := []func(context.Context){
		func(ctx context.Context) {
			if _, err := s.invoices.GenerateInvoice(ctx, &settled); err != nil {
				s.logger.WithError(err).WithField("transaction_id", settled.TransactionID).
					Error("Invoice generation failed after settlement")
			}
		},
		func(ctx context.Context) {
			update := &models.BookingStatusUpdate{
				Status:     bookingStatusFor(&settled),
				AmountPaid: settled.Amount,
			}
			if err := s.bookings.UpdateBookingStatus(ctx, settled.BookingID, settled.UserID, update); err != nil {
				s.logger.WithError(err).WithField("booking_id", settled.BookingID).
					Error("Booking status write-back failed after settlement")
			}
		},
		func(ctx context.Context) {
			s.publisher.Publish(TopicPaymentSuccess, paymentEventFor(&settled))
		},
	}

	return after, nil
}

// applyPaymentFailed records a failed settlement. Success is sticky: a
// failure event arriving after SUCCESS changes nothing.
func (s *WebhookService) applyPaymentFailed(ctx context.Context, tx *sqlx.Tx, event *models.GatewayEvent) ([]func(context.Context), error) {
	if event.Payment == nil || event.Payment.OrderID == "" {
		return nil, apperrors.Validation("payment.failed event is missing payment entity")
	}

	txn, err := s.payments.GetByOrderIDForUpdate(ctx, tx, event.Payment.OrderID)
	if err != nil {
		if errors.Is(err, database.ErrPaymentNotFound) {
			return nil, apperrors.NotFound("no transaction for failed order")
		}
		return nil, err
	}

	if txn.IsTerminal() {
		return nil, nil
	}

	paymentID := event.Payment.PaymentID
	var failureReason *string
	if event.Payment.ErrorCode != "" || event.Payment.ErrorDescription != "" {
		reason := fmt.Sprintf("%s: %s", event.Payment.ErrorCode, event.Payment.ErrorDescription)
		failureReason = &reason
	}
	if err := s.payments.UpdateStatus(ctx, tx, txn.ID, models.PaymentStatusFailed, &paymentID, failureReason); err != nil {
		return nil, err
	}
	txn.Status = models.PaymentStatusFailed

	failed := *txn
	after := []func(context.Context){
		func(ctx context.Context) {
			s.publisher.Publish(TopicPaymentFailed, paymentEventFor(&failed))
		},
	}

	return after, nil
}

// applyRefundProcessed finalizes a refund slice and rolls the status up to
// the parent payment.
func (s *WebhookService) applyRefundProcessed(ctx context.Context, tx *sqlx.Tx, event *models.GatewayEvent) ([]func(context.Context), error) {
	if event.Refund == nil || event.Refund.RefundID == "" {
		return nil, apperrors.Validation("refund.processed event is missing refund entity")
	}

	refund, err := s.refunds.GetByGatewayRefundIDForUpdate(ctx, tx, event.Refund.RefundID)
	if err != nil {
		if errors.Is(err, database.ErrRefundNotFound) {
			return nil, apperrors.NotFound("no refund for gateway refund id")
		}
		return nil, err
	}

	if refund.IsTerminal() {
		return nil, nil
	}

	if err := s.refunds.UpdateStatus(ctx, tx, refund.ID, models.RefundTxnProcessed); err != nil {
		return nil, err
	}
	refund.Status = models.RefundTxnProcessed

	parent, err := s.payments.GetByIDForUpdate(ctx, tx, refund.PaymentTransactionID)
	if err != nil {
		return nil, err
	}
	if err := s.payments.UpdateRefundState(ctx, tx, parent.ID, parent.RefundAmount, models.RefundStatusProcessed); err != nil {
		return nil, err
	}

	processed := *refund
	parentCopy := *parent
	after := []func(context.Context){
		func(ctx context.Context) {
			if _, err := s.invoices.GenerateCreditNote(ctx, &processed); err != nil {
				s.logger.WithError(err).WithField("refund_id", processed.ID).
					Error("Credit note generation failed after refund")
			}
		},
		func(ctx context.Context) {
			event := paymentEventFor(&parentCopy)
			event.Amount = processed.Amount.StringFixed(2)
			s.publisher.Publish(TopicRefundProcessed, event)
		},
	}

	return after, nil
}

// applyRefundFailed reverses the refund amount a failed slice had reserved
// on its parent payment.
func (s *WebhookService) applyRefundFailed(ctx context.Context, tx *sqlx.Tx, event *models.GatewayEvent) ([]func(context.Context), error) {
	if event.Refund == nil || event.Refund.RefundID == "" {
		return nil, apperrors.Validation("refund.failed event is missing refund entity")
	}

	refund, err := s.refunds.GetByGatewayRefundIDForUpdate(ctx, tx, event.Refund.RefundID)
	if err != nil {
		if errors.Is(err, database.ErrRefundNotFound) {
			return nil, apperrors.NotFound("no refund for gateway refund id")
		}
		return nil, err
	}

	if refund.IsTerminal() {
		return nil, nil
	}

	if err := s.refunds.UpdateStatus(ctx, tx, refund.ID, models.RefundTxnFailed); err != nil {
		return nil, err
	}

	parent, err := s.payments.GetByIDForUpdate(ctx, tx, refund.PaymentTransactionID)
	if err != nil {
		return nil, err
	}
	reversed := parent.RefundAmount.Sub(refund.Amount).Round(2)
	if reversed.LessThan(decimal.Zero) {
		reversed = decimal.Zero
	}
	if err := s.payments.UpdateRefundState(ctx, tx, parent.ID, reversed, models.RefundStatusFailed); err != nil {
		return nil, err
	}

	failed := *refund
	parentCopy := *parent
	after := []func(context.Context){
		func(ctx context.Context) {
			event := paymentEventFor(&parentCopy)
			event.Amount = failed.Amount.StringFixed(2)
			s.publisher.Publish(TopicRefundFailed, event)
		},
	}

	return after, nil
}

// bookingStatusFor maps a settled payment to the booking's payment state
func bookingStatusFor(txn *models.PaymentTransaction) string {
	if txn.PaymentType == models.PaymentTypeFull {
		return models.BookingPaymentStatusPaid
	}
	if txn.InstallmentNo != nil && *txn.InstallmentNo >= 2 {
		return models.BookingPaymentStatusPaid
	}
	return models.BookingPaymentStatusPartiallyPaid
}

// paymentEventFor builds the downstream notification for a transaction
func paymentEventFor(txn *models.PaymentTransaction) *PaymentEvent {
	return &PaymentEvent{
		TransactionID:   txn.TransactionID,
		BookingPublicID: txn.BookingPublicID,
		UserID:          txn.UserID.String(),
		Amount:          txn.Amount.StringFixed(2),
		Currency:        txn.Currency,
		OccurredAt:      time.Now(),
	}
}
