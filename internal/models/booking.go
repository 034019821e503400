package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingPaymentState values reported by the remote booking service.
const (
	BookingPaymentStatusPaid          = "PAID"
	BookingPaymentStatusPartiallyPaid = "PARTIALLY_PAID"
)

// BookingDetails is a read-only snapshot of a booking's financial state,
// fetched from the remote booking service per request and never cached
// beyond request scope.
type BookingDetails struct {
	ID                 uuid.UUID       `json:"id"`
	BookingPublicID    string          `json:"bookingPublicId"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PaymentStatus      string          `json:"payment_status"`
	TotalPayableAmount decimal.Decimal `json:"total_payable_amount"`
	TotalPaidAmount    decimal.Decimal `json:"total_paid_amount"`
}

// BookingStatusUpdate is the settlement report sent back to the booking
// service after a payment settles.
type BookingStatusUpdate struct {
	Status     string          `json:"status"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}
