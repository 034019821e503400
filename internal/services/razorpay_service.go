package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/config"
)

// PaymentGateway abstracts the payment gateway so services and tests do not
// depend on the live Razorpay API.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*GatewayOrder, error)
	CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinorUnits int64) (*GatewayRefund, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	KeyID() string
}

// GatewayOrder is the gateway-side order created for a checkout
type GatewayOrder struct {
	ID               string `json:"id"`
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
	Receipt          string `json:"receipt"`
	Status           string `json:"status"`
}

// GatewayRefund is the gateway-side refund created against a payment
type GatewayRefund struct {
	ID               string `json:"id"`
	PaymentID        string `json:"payment_id"`
	AmountMinorUnits int64  `json:"amount"`
	Status           string `json:"status"`
}

// razorpayOrderRequest is the body of POST /orders
type razorpayOrderRequest struct {
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// razorpayRefundRequest is the body of POST /payments/:id/refund
type razorpayRefundRequest struct {
	Amount int64 `json:"amount"` // minor units
}

// razorpayErrorResponse is the gateway's error envelope
type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// RazorpayService talks to the Razorpay REST API using basic auth with the
// merchant key pair.
type RazorpayService struct {
	config *config.RazorpayConfig
	logger *logrus.Logger
	client *http.Client
}

// NewRazorpayService creates a new Razorpay gateway client
func NewRazorpayService(cfg *config.RazorpayConfig, logger *logrus.Logger) *RazorpayService {
	return &RazorpayService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// KeyID returns the public merchant key id sent to checkout clients
func (s *RazorpayService) KeyID() string {
	return s.config.KeyID
}

// CreateOrder creates a gateway order for the given amount in minor units
func (s *RazorpayService) CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*GatewayOrder, error) {
	reqBody := razorpayOrderRequest{
		Amount:   amountMinorUnits,
		Currency: currency,
		Receipt:  receipt,
	}

	var order GatewayOrder
	if err := s.post(ctx, "/orders", reqBody, &order); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"gateway_order_id": order.ID,
		"amount":           amountMinorUnits,
		"currency":         currency,
	}).Info("Gateway order created")

	return &order, nil
}

// CreateRefund creates a gateway refund against a captured payment
func (s *RazorpayService) CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinorUnits int64) (*GatewayRefund, error) {
	reqBody := razorpayRefundRequest{Amount: amountMinorUnits}

	var refund GatewayRefund
	path := fmt.Sprintf("/payments/%s/refund", gatewayPaymentID)
	if err := s.post(ctx, path, reqBody, &refund); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"gateway_refund_id":  refund.ID,
		"gateway_payment_id": gatewayPaymentID,
		"amount":             amountMinorUnits,
	}).Info("Gateway refund created")

	return &refund, nil
}

// VerifyPaymentSignature checks the client checkout confirmation signature:
// HMAC-SHA256 over "orderId|paymentId" keyed with the merchant secret,
// hex-encoded, compared in constant time.
func (s *RazorpayService) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	payload := orderID + "|" + paymentID
	expected := s.sign([]byte(payload), s.config.KeySecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header over the raw
// request body, keyed with the webhook secret.
func (s *RazorpayService) VerifyWebhookSignature(body []byte, signature string) bool {
	expected := s.sign(body, s.config.WebhookSecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *RazorpayService) sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// post sends an authenticated JSON POST to the gateway and decodes the
// response into out.
func (s *RazorpayService) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.config.KeyID, s.config.KeySecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Upstream("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Upstream("failed to read gateway response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gatewayErr razorpayErrorResponse
		_ = json.Unmarshal(respBody, &gatewayErr)
		s.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"error_code":  gatewayErr.Error.Code,
			"description": gatewayErr.Error.Description,
			"path":        path,
		}).Error("Gateway request rejected")
		return apperrors.Upstream(
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, gatewayErr.Error.Description),
			nil,
		)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Upstream("failed to decode gateway response", err)
	}

	return nil
}
