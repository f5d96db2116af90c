package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is the franz-go record type handed to consumers
type Record = kgo.Record

// ErrClientClosed is returned by Poll once the consumer has been closed
var ErrClientClosed = errors.New("kafka consumer closed")

// ConsumerConfig contains consumer group configuration
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
}

// Consumer is a consumer group member with manual offset commits
type Consumer struct {
	client *kgo.Client
}

// NewConsumer joins the consumer group. Offsets are committed explicitly via CommitRecords.
func NewConsumer(ctx context.Context, cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("consumer group and topics are required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(30 * time.Second),
		kgo.RebalanceTimeout(60 * time.Second),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := pingWithRetry(ctx, client, cfg.MaxRetries, cfg.RetryInterval); err != nil {
		client.Close()
		return nil, err
	}
	return &Consumer{client: client}, nil
}

// Poll blocks until records are available or ctx is done
func (c *Consumer) Poll(ctx context.Context) ([]*Record, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("%s[%d]: %w", topic, partition, err))
	})

	records := fetches.Records()
	if len(records) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

// CommitRecords commits offsets for the given records
func (c *Consumer) CommitRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	return c.client.CommitRecords(ctx, records...)
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// HeaderValue returns the value of the named header or ""
func HeaderValue(r *Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
