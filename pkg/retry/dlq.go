package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrDLQPublish marks a message that failed and could not be parked either
var ErrDLQPublish = errors.New("failed to publish to DLQ")

// DLQMessage is a record that could not be processed, parked for operators
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter topic
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// JSONProducer is satisfied by *kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error
}

// KafkaDLQPublisher writes to "<original topic><suffix>"
type KafkaDLQPublisher struct {
	producer JSONProducer
	suffix   string
	source   string
}

// NewKafkaDLQPublisher creates a DLQ publisher; suffix defaults to ".dlq"
func NewKafkaDLQPublisher(producer JSONProducer, source, suffix string) *KafkaDLQPublisher {
	if suffix == "" {
		suffix = ".dlq"
	}
	return &KafkaDLQPublisher{producer: producer, suffix: suffix, source: source}
}

// Topic returns the dead letter topic for original
func (p *KafkaDLQPublisher) Topic(original string) string {
	return original + p.suffix
}

// PublishToDLQ stamps and publishes msg
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}
	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}
	return p.producer.ProduceJSON(ctx, p.Topic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// NoOpDLQPublisher drops messages
type NoOpDLQPublisher struct{}

func (NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error { return nil }

// MessageContext identifies the record being processed
type MessageContext struct {
	ID      string
	Topic   string
	Key     string
	Payload json.RawMessage
	Headers map[string]string
}

// DLQHandler retries an operation and parks the message once it gives up
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
}

// NewDLQHandler creates a handler; a nil config uses DefaultConfig
func NewDLQHandler(publisher DLQPublisher, config *Config) *DLQHandler {
	if publisher == nil {
		publisher = NoOpDLQPublisher{}
	}
	return &DLQHandler{retrier: New(config), publisher: publisher}
}

// ProcessWithDLQ runs op with retries. If it still fails the message is
// published to the DLQ and the operation error is returned. A failure to
// publish is returned wrapped so the caller can avoid committing the record.
func (h *DLQHandler) ProcessWithDLQ(ctx context.Context, msgCtx *MessageContext, op Operation) error {
	first := time.Now()
	result := h.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}
	if result.Err == ErrContextCanceled {
		return result.Err
	}

	cause := result.Err
	if result.LastError != nil {
		cause = result.LastError
	}

	dlqMsg := &DLQMessage{
		ID:             msgCtx.ID,
		OriginalTopic:  msgCtx.Topic,
		OriginalKey:    msgCtx.Key,
		Payload:        msgCtx.Payload,
		Headers:        msgCtx.Headers,
		Error:          cause.Error(),
		Attempts:       result.Attempts,
		FirstAttemptAt: first,
	}
	if err := h.publisher.PublishToDLQ(ctx, dlqMsg); err != nil {
		return fmt.Errorf("%w: %v (original error: %v)", ErrDLQPublish, err, cause)
	}
	return result.Err
}
