package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Gateway webhook event types this service reconciles. Anything else is
// acknowledged without effect so the gateway stops redelivering it.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
)

// WebhookEvent is the idempotency ledger for inbound gateway notifications.
// The unique event_id is the deduplication barrier: a redelivered event id
// is acknowledged without re-applying effects.
type WebhookEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Gateway   string          `json:"gateway" db:"gateway"`
	EventID   string          `json:"event_id" db:"event_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Processed bool            `json:"processed" db:"processed"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// GatewayEvent is the tagged variant parsed from a webhook body. Exactly one
// of Payment/Refund is set depending on the event type; Unknown events carry
// only the event id and type.
type GatewayEvent struct {
	EventID   string
	EventType string
	Payment   *PaymentEntity
	Refund    *RefundEntity
	Raw       json.RawMessage
}

// PaymentEntity is the validated payment fragment of a gateway event.
type PaymentEntity struct {
	PaymentID        string
	OrderID          string
	AmountMinorUnits int64
	Currency         string
	ErrorCode        string
	ErrorDescription string
}

// RefundEntity is the validated refund fragment of a gateway event.
type RefundEntity struct {
	RefundID         string
	PaymentID        string
	AmountMinorUnits int64
}

// webhookEnvelope mirrors the gateway's wire shape:
// {"id": ..., "event": ..., "payload": {"payment"|"refund": {"entity": {...}}}}
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Amount           int64  `json:"amount"`
				Currency         string `json:"currency"`
				ErrorCode        string `json:"error_code"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseGatewayEvent decodes a raw webhook body into a tagged GatewayEvent.
// The event id falls back to the payment entity id when the envelope id is
// absent, matching the gateway's older payload versions.
func ParseGatewayEvent(body []byte) (*GatewayEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	event := &GatewayEvent{
		EventID:   env.ID,
		EventType: env.Event,
		Raw:       json.RawMessage(body),
	}

	if env.Payload.Payment != nil {
		e := env.Payload.Payment.Entity
		event.Payment = &PaymentEntity{
			PaymentID:        e.ID,
			OrderID:          e.OrderID,
			AmountMinorUnits: e.Amount,
			Currency:         e.Currency,
			ErrorCode:        e.ErrorCode,
			ErrorDescription: e.ErrorDescription,
		}
		if event.EventID == "" {
			event.EventID = e.ID
		}
	}
	if env.Payload.Refund != nil {
		e := env.Payload.Refund.Entity
		event.Refund = &RefundEntity{
			RefundID:         e.ID,
			PaymentID:        e.PaymentID,
			AmountMinorUnits: e.Amount,
		}
	}

	return event, nil
}
