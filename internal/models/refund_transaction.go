package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundTransactionStatus is the lifecycle state of a single refund slice.
// INITIATED -> {PROCESSED, FAILED}; PROCESSED and FAILED are terminal.
type RefundTransactionStatus string

const (
	RefundTxnInitiated RefundTransactionStatus = "INITIATED"
	RefundTxnProcessed RefundTransactionStatus = "PROCESSED"
	RefundTxnFailed    RefundTransactionStatus = "FAILED"
)

// RefundTransaction records one refund slice allocated against a payment
// transaction. A single refund request may fan out into several of these.
type RefundTransaction struct {
	ID                   uuid.UUID               `json:"id" db:"id"`
	PaymentTransactionID uuid.UUID               `json:"payment_transaction_id" db:"payment_transaction_id"`
	GatewayRefundID      string                  `json:"gateway_refund_id" db:"gateway_refund_id"`
	Amount               decimal.Decimal         `json:"amount" db:"amount"`
	Status               RefundTransactionStatus `json:"status" db:"status"`
	Reason               *string                 `json:"reason,omitempty" db:"reason"`
	CreatedAt            time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the refund status can no longer change.
func (r *RefundTransaction) IsTerminal() bool {
	return r.Status == RefundTxnProcessed || r.Status == RefundTxnFailed
}

// RefundRequest is the body of POST /payments/refund.
type RefundRequest struct {
	BookingPublicID string `json:"bookingPublicId" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Reason          string `json:"reason,omitempty"`
}

// RefundResponse acknowledges an accepted refund request.
type RefundResponse struct {
	Status         string `json:"status"`
	RefundedAmount string `json:"refundedAmount"`
}
