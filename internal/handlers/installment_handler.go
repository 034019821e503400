package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/models"
	"github.com/tripora/booking-payments-backend/internal/services"
)

// InstallmentHandler handles installment schedule endpoints
type InstallmentHandler struct {
	installmentService *services.InstallmentService
	logger             *logrus.Logger
}

// NewInstallmentHandler creates a new InstallmentHandler
func NewInstallmentHandler(installmentService *services.InstallmentService, logger *logrus.Logger) *InstallmentHandler {
	return &InstallmentHandler{
		installmentService: installmentService,
		logger:             logger,
	}
}

// CreateSchedule creates a booking's installment schedule
// @Summary Create installment schedule
// @Description Splits the booking total into two installments; idempotent per booking
// @Tags Installments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreateScheduleRequest true "Schedule request"
// @Success 201 {object} models.CreateScheduleResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /bookings/schedule [post]
func (h *InstallmentHandler) CreateSchedule(c *gin.Context) {
	var req models.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	response, err := h.installmentService.CreateSchedule(c.Request.Context(), &req)
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Failed to create installment schedule")
		}
		c.JSON(status, gin.H{"error": apperrors.ClientMessage(err)})
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetSchedule returns a booking's installment schedule
// @Summary Get installment schedule
// @Tags Installments
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param booking_id path string true "Booking ID"
// @Success 200 {object} models.CreateScheduleResponse
// @Failure 404 {object} map[string]interface{} "No schedule for booking"
// @Router /bookings/{booking_id}/schedule [get]
func (h *InstallmentHandler) GetSchedule(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	response, err := h.installmentService.GetSchedule(c.Request.Context(), bookingID)
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Failed to get installment schedule")
		}
		c.JSON(status, gin.H{"error": apperrors.ClientMessage(err)})
		return
	}

	c.JSON(http.StatusOK, response)
}
