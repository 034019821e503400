package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// stubGateway is an in-memory PaymentGateway for service tests
type stubGateway struct {
	mu            sync.Mutex
	keyID         string
	keySecret     string
	webhookSecret string

	orders        []GatewayOrder
	refunds       []GatewayRefund
	orderErr      error
	refundErr     error
	orderCounter  int
	refundCounter int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		keyID:         "rzp_test_key",
		keySecret:     "test-key-secret",
		webhookSecret: "test-webhook-secret",
	}
}

func (g *stubGateway) KeyID() string { return g.keyID }

func (g *stubGateway) CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.orderCounter++
	order := GatewayOrder{
		ID:               fmt.Sprintf("order_stub%03d", g.orderCounter),
		AmountMinorUnits: amountMinorUnits,
		Currency:         currency,
		Receipt:          receipt,
		Status:           "created",
	}
	g.orders = append(g.orders, order)
	return &order, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinorUnits int64) (*GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refundCounter++
	refund := GatewayRefund{
		ID:               fmt.Sprintf("rfnd_stub%03d", g.refundCounter),
		PaymentID:        gatewayPaymentID,
		AmountMinorUnits: amountMinorUnits,
		Status:           "processed",
	}
	g.refunds = append(g.refunds, refund)
	return &refund, nil
}

func (g *stubGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return signature == g.signHex(orderID+"|"+paymentID, g.keySecret)
}

func (g *stubGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == g.signHex(string(body), g.webhookSecret)
}

// signWebhook produces a valid signature for a test webhook body
func (g *stubGateway) signWebhook(body []byte) string {
	return g.signHex(string(body), g.webhookSecret)
}

func (g *stubGateway) signHex(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]*PaymentEvent
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(map[string][]*PaymentEvent)}
}

func (p *capturePublisher) Publish(topic string, event *PaymentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[topic] = append(p.events[topic], event)
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[topic])
}
