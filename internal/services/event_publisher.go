package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Kafka topics for downstream payment notifications
const (
	TopicPaymentSuccess  = "payment.success"
	TopicPaymentFailed   = "payment.failed"
	TopicRefundProcessed = "refund.processed"
	TopicRefundFailed    = "refund.failed"
)

// PaymentEvent is the message published to notification topics
type PaymentEvent struct {
	TransactionID   string    `json:"transactionId"`
	BookingPublicID string    `json:"bookingPublicId"`
	UserID          string    `json:"userId"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// EventPublisher publishes settlement notifications for downstream consumers
// (email/SMS workers). Publishing is best-effort; the payment ledger is the
// source of truth.
type EventPublisher interface {
	Publish(topic string, event *PaymentEvent)
	Close() error
}

// KafkaEventPublisher publishes events to Kafka via a synchronous producer
type KafkaEventPublisher struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

// NewKafkaEventPublisher connects a synchronous producer to the brokers
func NewKafkaEventPublisher(brokers []string, logger *logrus.Logger) (*KafkaEventPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer: producer,
		logger:   logger,
	}, nil
}

// Publish sends one event to a topic, keyed by booking for per-booking ordering
func (p *KafkaEventPublisher) Publish(topic string, event *PaymentEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to marshal payment event")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.BookingPublicID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":          topic,
			"transaction_id": event.TransactionID,
		}).Error("Failed to publish payment event")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("Payment event published")
}

// Close shuts down the producer
func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// NoopEventPublisher drops all events, used when Kafka is disabled
type NoopEventPublisher struct{}

// Publish discards the event
func (NoopEventPublisher) Publish(topic string, event *PaymentEvent) {}

// Close is a no-op
func (NoopEventPublisher) Close() error { return nil }
