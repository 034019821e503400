package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/config"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// BookingServiceClient fetches booking snapshots from and reports settlement
// back to the booking service. Caller identity is forwarded on every request
// so the booking service can enforce ownership.
type BookingServiceClient struct {
	config *config.BookingServiceConfig
	logger *logrus.Logger
	client *http.Client
}

// NewBookingServiceClient creates a new booking service client
func NewBookingServiceClient(cfg *config.BookingServiceConfig, logger *logrus.Logger) *BookingServiceClient {
	return &BookingServiceClient{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// FetchBooking retrieves the booking snapshot for an internal booking id.
// The snapshot is request-scoped and never cached.
func (c *BookingServiceClient) FetchBooking(ctx context.Context, bookingID uuid.UUID, userID uuid.UUID) (*models.BookingDetails, error) {
	url := fmt.Sprintf("%s/api/v1/bookings/%s", c.config.BaseURL, bookingID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build booking request: %w", err)
	}
	c.setIdentityHeaders(req, userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Upstream("booking service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Upstream("failed to read booking response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NotFound("booking not found")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"booking_id":  bookingID,
		}).Error("Booking service rejected fetch")
		return nil, apperrors.Upstream(fmt.Sprintf("booking service returned %d", resp.StatusCode), nil)
	}

	var booking models.BookingDetails
	if err := json.Unmarshal(body, &booking); err != nil {
		return nil, apperrors.Upstream("failed to decode booking response", err)
	}

	return &booking, nil
}

// UpdateBookingStatus reports a settlement to the booking service. Callers
// treat failures as best-effort; the payment ledger is already committed.
func (c *BookingServiceClient) UpdateBookingStatus(ctx context.Context, bookingID uuid.UUID, userID uuid.UUID, update *models.BookingStatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal booking status update: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/bookings/%s/status", c.config.BaseURL, bookingID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build booking status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setIdentityHeaders(req, userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Upstream("booking service unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Upstream(fmt.Sprintf("booking status update returned %d", resp.StatusCode), nil)
	}

	c.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"status":     update.Status,
	}).Info("Booking status updated")

	return nil
}

// setIdentityHeaders forwards the authenticated caller to the booking service
func (c *BookingServiceClient) setIdentityHeaders(req *http.Request, userID uuid.UUID) {
	req.Header.Set("AuthStatus", "Authorized")
	req.Header.Set("UserId", userID.String())
}
