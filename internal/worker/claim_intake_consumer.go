package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/pkg/kafka"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// ClaimMessage is a payment claim candidate delivered on the intake topic
type ClaimMessage struct {
	Reference string             `json:"reference"`
	Source    domain.ClaimSource `json:"source"`
	UserID    string             `json:"user_id"`
	EventID   string             `json:"event_id"`
	PassID    string             `json:"pass_id,omitempty"`
	Units     int                `json:"units"`
	Amount    decimal.Decimal    `json:"amount"`
	Currency  string             `json:"currency,omitempty"`
	Payer     domain.Payer       `json:"payer"`
	// Operator identifies the box-office operator for operator entries
	Operator string `json:"operator,omitempty"`
}

// Input converts the message to the gate's input
func (m *ClaimMessage) Input() domain.ClaimInput {
	return domain.ClaimInput{
		ExternalReference: m.Reference,
		Source:            m.Source,
		UserID:            m.UserID,
		EventID:           m.EventID,
		PassID:            m.PassID,
		Units:             m.Units,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Payer:             m.Payer,
	}
}

// RecordSource is the part of kafka.Consumer the intake consumer needs
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// Reconciler is the reconciliation entry point
type Reconciler interface {
	Reconcile(ctx context.Context, in domain.ClaimInput, v verifier.Verifier) (*service.ReconcileResult, error)
}

// ClaimIntakeConfig contains configuration for the claim intake consumer
type ClaimIntakeConfig struct {
	// RetryBackoff is the pause before redelivering records that could not be settled
	RetryBackoff time.Duration
	// Retry bounds the attempts per record before it is parked in the DLQ
	Retry *retry.Config
}

// ClaimIntakeConsumer feeds claim candidates from Kafka into Reconcile.
// A record is committed once it is settled: reconciled, refused for a
// state reason, or parked in the dead letter topic.
type ClaimIntakeConsumer struct {
	source    RecordSource
	gate      Reconciler
	verifiers *verifier.Registry
	dlq       *retry.DLQHandler
	config    *ClaimIntakeConfig
	log       *logger.Logger

	mu        sync.Mutex
	processed int64
	issued    int64
	refused   int64
	parked    int64
}

// NewClaimIntakeConsumer creates a new claim intake consumer
func NewClaimIntakeConsumer(source RecordSource, gate Reconciler, verifiers *verifier.Registry, dlq retry.DLQPublisher, config *ClaimIntakeConfig) *ClaimIntakeConsumer {
	if config == nil {
		config = &ClaimIntakeConfig{}
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.Retry == nil {
		config.Retry = retry.ConflictConfig()
	}
	return &ClaimIntakeConsumer{
		source:    source,
		gate:      gate,
		verifiers: verifiers,
		dlq:       retry.NewDLQHandler(dlq, config.Retry),
		config:    config,
		log:       logger.Get(),
	}
}

// Run consumes until ctx is done
func (c *ClaimIntakeConsumer) Run(ctx context.Context) error {
	c.log.Info("Starting claim intake consumer")
	var pending []*kafka.Record

	for {
		if ctx.Err() != nil {
			c.log.Info("Claim intake consumer stopped")
			return nil
		}

		if len(pending) > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(c.config.RetryBackoff):
			}
			pending = c.processBatch(ctx, pending)
			continue
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrClientClosed) {
				c.log.Info("Claim intake consumer stopped")
				return nil
			}
			c.log.Error("Failed to poll Kafka", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		pending = c.processBatch(ctx, records)
	}
}

// processBatch settles records in order and commits the settled prefix. It
// returns the records that must be redelivered.
func (c *ClaimIntakeConsumer) processBatch(ctx context.Context, records []*kafka.Record) []*kafka.Record {
	settled := len(records)
	for i, record := range records {
		if !c.handle(ctx, record) {
			settled = i
			break
		}
	}

	if err := c.source.CommitRecords(ctx, records[:settled]); err != nil {
		c.log.Error("Failed to commit offsets", zap.Error(err))
	}
	return records[settled:]
}

// handle reports whether record is settled and may be committed
func (c *ClaimIntakeConsumer) handle(ctx context.Context, record *kafka.Record) bool {
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	ctx = telemetry.ExtractHeaders(ctx, headers)
	ctx, span := telemetry.StartSpan(ctx, "claim_intake.handle")
	defer span.End()

	msgCtx := &retry.MessageContext{
		ID:      record.Topic + "/" + strconv.Itoa(int(record.Partition)) + "/" + strconv.FormatInt(record.Offset, 10),
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: json.RawMessage(record.Value),
		Headers: headers,
	}

	var outcome string
	err := c.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		var err error
		outcome, err = c.process(ctx, record.Value)
		return err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++

	switch {
	case err == nil:
		if outcome == "issued" {
			c.issued++
		} else {
			c.refused++
		}
		return true
	case errors.Is(err, retry.ErrContextCanceled):
		return false
	case errors.Is(err, retry.ErrDLQPublish):
		telemetry.RecordError(span, err)
		c.log.ErrorContext(ctx, "Claim could not be parked, will redeliver", zap.String("message_id", msgCtx.ID), zap.Error(err))
		return false
	default:
		c.parked++
		c.log.WarnContext(ctx, "Claim parked in dead letter topic", zap.String("message_id", msgCtx.ID), zap.Error(err))
		return true
	}
}

// process reconciles one payload. Outcomes that are final for the claim
// return nil; malformed payloads fail permanently; anything else is retried.
// A manual notification waiting for an admin is final for the intake; a
// gateway that could not answer is asked again.
func (c *ClaimIntakeConsumer) process(ctx context.Context, payload []byte) (string, error) {
	var msg ClaimMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to unmarshal claim message: %w", err))
	}

	v, err := c.verifierFor(&msg)
	if err != nil {
		return "", retry.Permanent(err)
	}

	res, err := c.gate.Reconcile(ctx, msg.Input(), v)
	switch {
	case err == nil:
		c.log.InfoContext(ctx, "Claim reconciled",
			zap.String("claim_reference", res.Claim.ExternalReference),
			zap.String("ticket_id", res.Ticket.ID),
			zap.Bool("replayed", res.Replayed),
		)
		return "issued", nil
	case domain.IsStateConflict(err), errors.Is(err, domain.ErrVerificationPending) && msg.Source != domain.SourceGatewayCallback:
		c.log.InfoContext(ctx, "Claim not issued",
			zap.String("claim_reference", msg.Reference),
			zap.String("reason", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return string(domain.KindOf(err)), nil
	case errors.Is(err, domain.ErrInvalid), errors.Is(err, domain.ErrNotFound):
		return "", retry.Permanent(err)
	}
	return "", err
}

func (c *ClaimIntakeConsumer) verifierFor(msg *ClaimMessage) (verifier.Verifier, error) {
	if msg.Source == domain.SourceOperatorEntry {
		return verifier.NewOperator(msg.Operator)
	}
	return c.verifiers.For(msg.Source)
}

// GetStats returns consumer statistics
func (c *ClaimIntakeConsumer) GetStats() *ClaimIntakeStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &ClaimIntakeStats{
		Processed: c.processed,
		Issued:    c.issued,
		Refused:   c.refused,
		Parked:    c.parked,
	}
}

// ClaimIntakeStats contains consumer statistics
type ClaimIntakeStats struct {
	Processed int64 `json:"processed"`
	Issued    int64 `json:"issued"`
	Refused   int64 `json:"refused"`
	Parked    int64 `json:"parked"`
}
