package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// ErrInvoiceNotFound is returned when no invoice matches the lookup.
var ErrInvoiceNotFound = errors.New("invoice not found")

// InvoiceRepository handles invoices and credit notes
type InvoiceRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sqlx.DB, logger *logrus.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInvoice inserts a new invoice
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	if invoice.IssuedAt.IsZero() {
		invoice.IssuedAt = time.Now()
	}

	query := `
		INSERT INTO invoices (
			id, invoice_no, booking_id, booking_public_id,
			transaction_id, transaction_public_id,
			amount, currency, status, pdf_url, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		invoice.ID, invoice.InvoiceNo, invoice.BookingID, invoice.BookingPublicID,
		invoice.TransactionID, invoice.TransactionPublicID,
		invoice.Amount, invoice.Currency, invoice.Status, invoice.PDFURL, invoice.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"invoice_no": invoice.InvoiceNo,
		"booking_id": invoice.BookingID,
	}).Info("Invoice created")

	return nil
}

// GetInvoiceByNo retrieves an invoice by its invoice number
func (r *InvoiceRepository) GetInvoiceByNo(ctx context.Context, invoiceNo string) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `SELECT * FROM invoices WHERE invoice_no = $1`

	err := r.db.GetContext(ctx, &invoice, query, invoiceNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return &invoice, nil
}

// GetInvoiceByTransactionID retrieves the invoice issued for a payment
// transaction, or nil when none exists yet.
func (r *InvoiceRepository) GetInvoiceByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `SELECT * FROM invoices WHERE transaction_id = $1`

	err := r.db.GetContext(ctx, &invoice, query, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice by transaction: %w", err)
	}

	return &invoice, nil
}

// CountInvoicesForYear returns the number of invoices issued in a calendar
// year, used to build the sequential part of invoice numbers.
func (r *InvoiceRepository) CountInvoicesForYear(ctx context.Context, year int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM invoices WHERE EXTRACT(YEAR FROM issued_at) = $1`

	err := r.db.GetContext(ctx, &count, query, year)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices for year: %w", err)
	}

	return count, nil
}

// CreateCreditNote inserts a new credit note
func (r *InvoiceRepository) CreateCreditNote(ctx context.Context, note *models.CreditNote) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO credit_notes (
			id, credit_note_number, invoice_id, refund_transaction_id,
			amount, pdf_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		note.ID, note.CreditNoteNumber, note.InvoiceID, note.RefundTransactionID,
		note.Amount, note.PDFURL, note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit note: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"credit_note_number": note.CreditNoteNumber,
		"invoice_id":         note.InvoiceID,
	}).Info("Credit note created")

	return nil
}

// GetCreditNoteByRefundID retrieves the credit note issued for a refund
// slice, or nil when none exists yet.
func (r *InvoiceRepository) GetCreditNoteByRefundID(ctx context.Context, refundTransactionID uuid.UUID) (*models.CreditNote, error) {
	var note models.CreditNote
	query := `SELECT * FROM credit_notes WHERE refund_transaction_id = $1`

	err := r.db.GetContext(ctx, &note, query, refundTransactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credit note by refund: %w", err)
	}

	return &note, nil
}
