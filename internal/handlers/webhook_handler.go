package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/services"
)

// signatureHeader carries the gateway's HMAC over the raw request body
const signatureHeader = "X-Razorpay-Signature"

// WebhookHandler handles inbound gateway settlement notifications
type WebhookHandler struct {
	webhookService *services.WebhookService
	logger         *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhookService *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// HandleWebhook processes one gateway event
// @Summary Gateway webhook
// @Description Authenticated by signature header, idempotent by event id
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "Webhook signature"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Bad signature or malformed event"
// @Router /payments/webhook [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	// The signature is computed over the raw body, so it must be read
	// before any JSON binding.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing webhook signature"})
		return
	}

	if err := h.webhookService.ProcessWebhook(c.Request.Context(), body, signature); err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Failed to process webhook")
		} else {
			h.logger.WithError(err).Warn("Rejected webhook")
		}
		c.JSON(status, gin.H{"error": apperrors.ClientMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
