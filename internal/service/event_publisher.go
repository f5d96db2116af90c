package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/pkg/kafka"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// EventPublisher publishes reservation events for downstream consumers
// (notifications, analytics). Publishing never fails the operation.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.ReservationEvent)
	Close() error
}

// EventPublisherConfig contains configuration for the Kafka event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// JSONProducer is the part of kafka.Producer the publisher needs
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error
	Close()
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    JSONProducer
	topic       string
	serviceName string
	log         *logger.Logger
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "reservation-events-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaEventPublisherWithProducer(producer, cfg.Topic, cfg.ServiceName), nil
}

// NewKafkaEventPublisherWithProducer wraps an existing producer
func NewKafkaEventPublisherWithProducer(producer JSONProducer, topic, serviceName string) *KafkaEventPublisher {
	if topic == "" {
		topic = "reservation-events"
	}
	if serviceName == "" {
		serviceName = "ticket-reservation"
	}
	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		log:         logger.Get(),
	}
}

// Publish sends event keyed by capacity key so one key's events stay ordered
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *domain.ReservationEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	headers := map[string]string{
		"event_type":   string(event.EventType),
		"event_id":     event.EventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}
	telemetry.InjectHeaders(ctx, headers)

	if err := p.producer.ProduceJSON(ctx, p.topic, event.CapacityKey, event, headers); err != nil {
		metrics.EventsDropped.Inc()
		p.log.WarnContext(ctx, "Failed to publish reservation event",
			zap.String("event_type", string(event.EventType)),
			zap.String("capacity_key", event.CapacityKey),
			zap.Error(err),
		)
	}
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher is used when Kafka is not configured
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish is a no-op
func (p *NoOpEventPublisher) Publish(context.Context, *domain.ReservationEvent) {}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
