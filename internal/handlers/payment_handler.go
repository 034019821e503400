package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/middleware"
	"github.com/tripora/booking-payments-backend/internal/models"
	"github.com/tripora/booking-payments-backend/internal/services"
)

// PaymentHandler handles payment initiation, verification, refund and
// invoice endpoints
type PaymentHandler struct {
	paymentService *services.PaymentService
	refundService  *services.RefundService
	invoiceService *services.InvoiceService
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	paymentService *services.PaymentService,
	refundService *services.RefundService,
	invoiceService *services.InvoiceService,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		refundService:  refundService,
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// InitiatePayment opens a gateway order for a booking payment
// @Summary Initiate payment
// @Description Creates a gateway order for a FULL or PART booking payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param Idempotency-Key header string true "Client idempotency key"
// @Param request body models.InitiatePaymentRequest true "Payment request"
// @Success 200 {object} models.InitiatePaymentResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Amount or idempotency conflict"
// @Failure 502 {object} map[string]interface{} "Gateway or booking service error"
// @Router /payments/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")

	response, err := h.paymentService.Initiate(c.Request.Context(), userCtx.UserID, idempotencyKey, &req)
	if err != nil {
		h.respondError(c, err, "Failed to initiate payment")
		return
	}

	c.JSON(http.StatusOK, response)
}

// VerifyPayment checks a client-submitted checkout confirmation
// @Summary Verify payment signature
// @Description Validates the checkout confirmation signature from the client
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.VerifyPaymentRequest true "Verification request"
// @Success 200 {object} models.VerifyPaymentResponse
// @Failure 400 {object} map[string]interface{} "Invalid signature"
// @Failure 404 {object} map[string]interface{} "Transaction not found"
// @Router /payments/verify [post]
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	response, err := h.paymentService.Verify(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Failed to verify payment")
		return
	}

	c.JSON(http.StatusOK, response)
}

// InitiateRefund allocates a refund across a booking's settled payments
// @Summary Initiate refund
// @Description Allocates the requested amount across settled payments, oldest first
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.RefundRequest true "Refund request"
// @Success 200 {object} models.RefundResponse
// @Failure 400 {object} map[string]interface{} "Amount exceeds refundable balance"
// @Failure 404 {object} map[string]interface{} "No settled payments"
// @Router /payments/refund [post]
func (h *PaymentHandler) InitiateRefund(c *gin.Context) {
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	response, err := h.refundService.InitiateRefund(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Failed to initiate refund")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetInvoice returns invoice metadata by invoice number
// @Summary Get invoice
// @Tags Payments
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param invoice_no path string true "Invoice number"
// @Success 200 {object} models.InvoiceResponse
// @Failure 404 {object} map[string]interface{} "Invoice not found"
// @Router /payments/invoices/{invoice_no} [get]
func (h *PaymentHandler) GetInvoice(c *gin.Context) {
	invoiceNo := c.Param("invoice_no")
	if invoiceNo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice number is required"})
		return
	}

	response, err := h.invoiceService.GetInvoice(c.Request.Context(), invoiceNo)
	if err != nil {
		h.respondError(c, err, "Failed to get invoice")
		return
	}

	c.JSON(http.StatusOK, response)
}

// respondError maps a service error to its HTTP response
func (h *PaymentHandler) respondError(c *gin.Context, err error, logMessage string) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error(logMessage)
	} else {
		h.logger.WithError(err).Warn(logMessage)
	}
	c.JSON(status, gin.H{"error": apperrors.ClientMessage(err)})
}
