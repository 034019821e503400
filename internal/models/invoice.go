package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is issued exactly once per successful payment transaction.
type Invoice struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	InvoiceNo           string          `json:"invoice_no" db:"invoice_no"`
	BookingID           uuid.UUID       `json:"booking_id" db:"booking_id"`
	BookingPublicID     string          `json:"booking_public_id" db:"booking_public_id"`
	TransactionID       uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	TransactionPublicID string          `json:"transaction_public_id" db:"transaction_public_id"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	Currency            string          `json:"currency" db:"currency"`
	Status              string          `json:"status" db:"status"`
	PDFURL              *string         `json:"pdf_url,omitempty" db:"pdf_url"`
	IssuedAt            time.Time       `json:"issued_at" db:"issued_at"`
}

// CreditNote is issued exactly once per processed refund transaction.
type CreditNote struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	CreditNoteNumber    string          `json:"credit_note_number" db:"credit_note_number"`
	InvoiceID           uuid.UUID       `json:"invoice_id" db:"invoice_id"`
	RefundTransactionID uuid.UUID       `json:"refund_transaction_id" db:"refund_transaction_id"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	PDFURL              *string         `json:"pdf_url,omitempty" db:"pdf_url"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// InvoiceResponse is the API shape of GET /payments/invoices/:invoice_no.
type InvoiceResponse struct {
	InvoiceNo       string  `json:"invoiceNo"`
	BookingPublicID string  `json:"bookingPublicId"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	PDFURL          *string `json:"pdfUrl,omitempty"`
	IssuedAt        string  `json:"issuedAt"`
}
