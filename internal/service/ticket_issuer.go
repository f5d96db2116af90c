package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// TicketIssuer mints tickets and runs their post-issuance lifecycle.
// Issue never touches capacity; the caller has already reserved it.
type TicketIssuer struct {
	tickets   repository.TicketRepository
	ledger    *InventoryLedger
	publisher EventPublisher
	retry     *retry.Config
	now       func() time.Time
	log       *logger.Logger
}

// NewTicketIssuer creates a new TicketIssuer
func NewTicketIssuer(tickets repository.TicketRepository, ledger *InventoryLedger, publisher EventPublisher, retryCfg *retry.Config) *TicketIssuer {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	if retryCfg == nil {
		retryCfg = retry.ConflictConfig()
	}
	return &TicketIssuer{
		tickets:   tickets,
		ledger:    ledger,
		publisher: publisher,
		retry:     retryCfg,
		now:       time.Now,
		log:       logger.Get(),
	}
}

// Issue creates a valid ticket for units the caller already holds
func (s *TicketIssuer) Issue(ctx context.Context, req domain.IssueRequest) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "ticket.issue")
	defer span.End()

	ticket, err := domain.NewTicket(req, s.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket_id", ticket.ID), attribute.String("payment_reference", req.PaymentReference))

	if err := s.tickets.Create(ctx, ticket); err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewError(domain.ErrInvalid, ticket.CapacityKey(), req.PaymentReference, "a ticket already exists for this payment")
		}
		return nil, err
	}

	metrics.TicketsIssued.Inc()
	s.log.InfoContext(ctx, "Ticket issued",
		zap.String("ticket_id", ticket.ID),
		zap.String("user_id", ticket.UserID),
		zap.String("capacity_key", ticket.CapacityKey().String()),
		zap.String("payment_reference", ticket.PaymentReference),
	)
	s.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventTicketIssued,
		CapacityKey: ticket.CapacityKey().String(),
		UserID:      ticket.UserID,
		TicketID:    ticket.ID,
		Reference:   ticket.PaymentReference,
		Quantity:    ticket.Quantity,
		OccurredAt:  ticket.PurchasedAt,
	})
	return ticket, nil
}

// Get returns a ticket by id
func (s *TicketIssuer) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.tickets.Get(ctx, ticketID)
}

// Refund cancels a ticket and gives its units back. The release cascades to
// the waiting list inside the same capacity lock.
func (s *TicketIssuer) Refund(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "ticket.refund")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var promoted int
	err = s.ledger.Atomically(ctx, ticket.CapacityKey(), func(ctx context.Context, scope *LedgerScope) error {
		if ticket, err = s.tickets.Get(ctx, ticketID); err != nil {
			return err
		}
		if err := ticket.Refund(s.now()); err != nil {
			return err
		}
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		_, promoted, err = scope.ReleaseAndCascade(ctx, ticket.Quantity)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.TicketsRefunded.Inc()
	s.log.InfoContext(ctx, "Ticket refunded",
		zap.String("ticket_id", ticket.ID),
		zap.String("capacity_key", ticket.CapacityKey().String()),
		zap.Int("units", ticket.Quantity),
		zap.Int("promoted", promoted),
	)
	s.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventTicketRefunded,
		CapacityKey: ticket.CapacityKey().String(),
		UserID:      ticket.UserID,
		TicketID:    ticket.ID,
		Reference:   ticket.PaymentReference,
		Quantity:    ticket.Quantity,
		OccurredAt:  s.now(),
	})
	return ticket, nil
}

// Scan admits the holder once
func (s *TicketIssuer) Scan(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "ticket.scan")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	var ticket *domain.Ticket
	result := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		if ticket, err = s.tickets.Get(ctx, ticketID); err != nil {
			return retry.Permanent(err)
		}
		if err := ticket.Scan(s.now()); err != nil {
			return retry.Permanent(err)
		}
		if err := s.tickets.Update(ctx, ticket); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
	if err := resultError(result); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.TicketsScanned.Inc()
	s.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventTicketScanned,
		CapacityKey: ticket.CapacityKey().String(),
		UserID:      ticket.UserID,
		TicketID:    ticket.ID,
		Quantity:    ticket.Quantity,
		OccurredAt:  *ticket.ScannedAt,
	})
	return ticket, nil
}
