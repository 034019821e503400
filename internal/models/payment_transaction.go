package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment transaction.
// Transitions are monotonic: INITIATED -> PENDING -> {SUCCESS, FAILED}.
// SUCCESS and FAILED are terminal and never revert.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// RefundStatus tracks the refund state rolled up onto a payment transaction.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "NONE"
	RefundStatusInitiated RefundStatus = "INITIATED"
	RefundStatusProcessed RefundStatus = "PROCESSED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// PaymentType distinguishes a full-balance payment from an installment payment.
type PaymentType string

const (
	PaymentTypeFull PaymentType = "FULL"
	PaymentTypePart PaymentType = "PART"
)

// GatewayName is the payment gateway identifier recorded on transactions.
const GatewayName = "RAZORPAY"

// PaymentTransaction is the ledger row for a single gateway payment attempt.
type PaymentTransaction struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	TransactionID    string          `json:"transaction_id" db:"transaction_id"`
	BookingID        uuid.UUID       `json:"booking_id" db:"booking_id"`
	BookingPublicID  string          `json:"booking_public_id" db:"booking_public_id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	PaymentType      PaymentType     `json:"payment_type" db:"payment_type"`
	InstallmentNo    *int            `json:"installment_no,omitempty" db:"installment_no"`
	Gateway          string          `json:"gateway" db:"gateway"`
	GatewayOrderID   string          `json:"gateway_order_id" db:"gateway_order_id"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	Status           PaymentStatus   `json:"status" db:"status"`
	FailureReason    *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	RefundAmount     decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	RefundStatus     RefundStatus    `json:"refund_status" db:"refund_status"`
	IdempotencyKey   string          `json:"-" db:"idempotency_key"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the transaction status can no longer change.
func (t *PaymentTransaction) IsTerminal() bool {
	return t.Status == PaymentStatusSuccess || t.Status == PaymentStatusFailed
}

// RemainingRefundable returns amount minus the refund amount already applied.
func (t *PaymentTransaction) RemainingRefundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundAmount).Round(2)
}

// InitiatePaymentRequest is the body of POST /payments/initiate.
type InitiatePaymentRequest struct {
	BookingID     uuid.UUID   `json:"bookingId" binding:"required"`
	Amount        string      `json:"amount" binding:"required"`
	Currency      string      `json:"currency" binding:"required"`
	PaymentType   PaymentType `json:"paymentType" binding:"required"`
	InstallmentNo *int        `json:"installmentNo,omitempty"`
}

// InitiatePaymentResponse is returned to the caller with the gateway order
// reference needed to open the checkout.
type InitiatePaymentResponse struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	KeyID          string `json:"keyId"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
}

// VerifyPaymentRequest carries the client-side payment confirmation proof.
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpayOrderId" binding:"required"`
	GatewayPaymentID string `json:"razorpayPaymentId" binding:"required"`
	Signature        string `json:"razorpaySignature" binding:"required"`
}

// VerifyPaymentResponse acknowledges a verified client confirmation.
type VerifyPaymentResponse struct {
	Status string `json:"status"`
}
