package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/config"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// DocumentGenerator renders and stores billing documents, returning a URL to
// the stored artifact. Rendering is a side job: failures are logged by the
// caller and never block settlement.
type DocumentGenerator interface {
	RenderInvoice(ctx context.Context, invoice *models.Invoice) (string, error)
	RenderCreditNote(ctx context.Context, note *models.CreditNote) (string, error)
}

// InvoiceService issues invoices for settled payments and credit notes for
// processed refunds, exactly once each.
type InvoiceService struct {
	repo      *database.InvoiceRepository
	generator DocumentGenerator
	logger    *logrus.Logger
}

// NewInvoiceService creates a new invoice service. generator may be nil when
// document rendering is disabled.
func NewInvoiceService(repo *database.InvoiceRepository, generator DocumentGenerator, logger *logrus.Logger) *InvoiceService {
	return &InvoiceService{
		repo:      repo,
		generator: generator,
		logger:    logger,
	}
}

// GenerateInvoice issues the invoice for a settled transaction. A second
// call for the same transaction returns the existing invoice unchanged.
func (s *InvoiceService) GenerateInvoice(ctx context.Context, txn *models.PaymentTransaction) (*models.Invoice, error) {
	existing, err := s.repo.GetInvoiceByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	count, err := s.repo.CountInvoicesForYear(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		InvoiceNo:           fmt.Sprintf("INV-%d-%06d", now.Year(), count+1),
		BookingID:           txn.BookingID,
		BookingPublicID:     txn.BookingPublicID,
		TransactionID:       txn.ID,
		TransactionPublicID: txn.TransactionID,
		Amount:              txn.Amount,
		Currency:            txn.Currency,
		Status:              "ISSUED",
		IssuedAt:            now,
	}

	if s.generator != nil {
		url, renderErr := s.generator.RenderInvoice(ctx, invoice)
		if renderErr != nil {
			s.logger.WithError(renderErr).WithField("invoice_no", invoice.InvoiceNo).
				Warn("Invoice PDF rendering failed, issuing without document")
		} else if url != "" {
			invoice.PDFURL = &url
		}
	}

	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	return invoice, nil
}

// GenerateCreditNote issues the credit note for a processed refund slice.
// Skipped silently when the parent payment has no invoice.
func (s *InvoiceService) GenerateCreditNote(ctx context.Context, refund *models.RefundTransaction) (*models.CreditNote, error) {
	existing, err := s.repo.GetCreditNoteByRefundID(ctx, refund.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	invoice, err := s.repo.GetInvoiceByTransactionID(ctx, refund.PaymentTransactionID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		s.logger.WithField("refund_id", refund.ID).
			Warn("No invoice for refunded transaction, skipping credit note")
		return nil, nil
	}

	note := &models.CreditNote{
		CreditNoteNumber:    newCreditNoteNumber(time.Now().Year()),
		InvoiceID:           invoice.ID,
		RefundTransactionID: refund.ID,
		Amount:              refund.Amount,
	}

	if s.generator != nil {
		url, renderErr := s.generator.RenderCreditNote(ctx, note)
		if renderErr != nil {
			s.logger.WithError(renderErr).WithField("credit_note_number", note.CreditNoteNumber).
				Warn("Credit note PDF rendering failed, issuing without document")
		} else if url != "" {
			note.PDFURL = &url
		}
	}

	if err := s.repo.CreateCreditNote(ctx, note); err != nil {
		return nil, err
	}

	return note, nil
}

// GetInvoice returns invoice metadata by invoice number
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceNo string) (*models.InvoiceResponse, error) {
	invoice, err := s.repo.GetInvoiceByNo(ctx, invoiceNo)
	if err != nil {
		if errors.Is(err, database.ErrInvoiceNotFound) {
			return nil, apperrors.NotFound("invoice not found")
		}
		return nil, err
	}

	return &models.InvoiceResponse{
		InvoiceNo:       invoice.InvoiceNo,
		BookingPublicID: invoice.BookingPublicID,
		Amount:          invoice.Amount.StringFixed(2),
		Currency:        invoice.Currency,
		Status:          invoice.Status,
		PDFURL:          invoice.PDFURL,
		IssuedAt:        invoice.IssuedAt.Format(time.RFC3339),
	}, nil
}

// newCreditNoteNumber builds a CN-<year>-<hex> reference
func newCreditNoteNumber(year int) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("CN-%d-%06d", year, time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("CN-%d-%s", year, strings.ToUpper(hex.EncodeToString(buf)))
}

// HTTPDocumentGenerator delegates rendering to an external document service
type HTTPDocumentGenerator struct {
	config *config.InvoiceConfig
	logger *logrus.Logger
	client *http.Client
}

// NewHTTPDocumentGenerator creates a renderer client
func NewHTTPDocumentGenerator(cfg *config.InvoiceConfig, logger *logrus.Logger) *HTTPDocumentGenerator {
	return &HTTPDocumentGenerator{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.RendererTimeout,
		},
	}
}

// RenderInvoice renders an invoice PDF and returns its stored URL
func (g *HTTPDocumentGenerator) RenderInvoice(ctx context.Context, invoice *models.Invoice) (string, error) {
	return g.render(ctx, "/render/invoice", invoice)
}

// RenderCreditNote renders a credit note PDF and returns its stored URL
func (g *HTTPDocumentGenerator) RenderCreditNote(ctx context.Context, note *models.CreditNote) (string, error) {
	return g.render(ctx, "/render/credit-note", note)
}

func (g *HTTPDocumentGenerator) render(ctx context.Context, path string, document interface{}) (string, error) {
	payload, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.RendererURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build renderer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("document renderer unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read renderer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("document renderer returned %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode renderer response: %w", err)
	}

	return result.URL, nil
}
