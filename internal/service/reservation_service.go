package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// DefaultMaxUnitsPerRequest caps the quantity of a single request
const DefaultMaxUnitsPerRequest = 10

// PaymentDetails describes a payment the caller says it has made
type PaymentDetails struct {
	Reference string
	Source    domain.ClaimSource
	Amount    decimal.Decimal
	Currency  string
	Payer     domain.Payer
	// Verifier overrides the registry, e.g. for a signed gateway callback
	Verifier verifier.Verifier
}

// ReservationRequest is the input of RequestTicketOrOffer. Without Payment
// the request starts a checkout; with it the payment is reconciled.
type ReservationRequest struct {
	UserID   string
	EventID  string
	PassID   string
	Quantity int
	Payment  *PaymentDetails
}

// CapacityKey returns the key the request targets
func (r *ReservationRequest) CapacityKey() domain.CapacityKey {
	return domain.NewCapacityKey(r.EventID, r.PassID)
}

// ReservationService is the public entry point for checkout and manual flows
type ReservationService struct {
	ledger    *InventoryLedger
	waitlist  *WaitingListManager
	gate      *ReconciliationGate
	catalog   repository.CatalogRepository
	verifiers *verifier.Registry
	maxUnits  int
	log       *logger.Logger
}

// NewReservationService creates a new ReservationService
func NewReservationService(
	ledger *InventoryLedger,
	waitlist *WaitingListManager,
	gate *ReconciliationGate,
	catalog repository.CatalogRepository,
	verifiers *verifier.Registry,
	maxUnits int,
) *ReservationService {
	if maxUnits <= 0 {
		maxUnits = DefaultMaxUnitsPerRequest
	}
	return &ReservationService{
		ledger:    ledger,
		waitlist:  waitlist,
		gate:      gate,
		catalog:   catalog,
		verifiers: verifiers,
		maxUnits:  maxUnits,
		log:       logger.Get(),
	}
}

// RequestTicketOrOffer issues a ticket, grants an offer or queues the user.
// Queued is a successful outcome. State conflicts come back as Rejected;
// malformed input and infrastructure failures come back as errors.
func (s *ReservationService) RequestTicketOrOffer(ctx context.Context, req *ReservationRequest) (*domain.ReservationOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "reservation.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("capacity_key", req.CapacityKey().String()),
		attribute.Int("quantity", req.Quantity),
		attribute.Bool("with_payment", req.Payment != nil),
	)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	pass, err := s.catalog.GetPass(ctx, req.EventID, req.PassID)
	if err != nil {
		return nil, err
	}
	if pass.Cancelled {
		return domain.Rejected(domain.NewError(domain.ErrInvalid, req.CapacityKey(), "", "event is cancelled")), nil
	}

	var outcome *domain.ReservationOutcome
	if req.Payment != nil {
		outcome, err = s.purchase(ctx, req)
	} else {
		outcome, err = s.checkout(ctx, req)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	return outcome, nil
}

func (s *ReservationService) validate(req *ReservationRequest) error {
	if req.UserID == "" {
		return domain.Invalidf("user id is required")
	}
	if err := req.CapacityKey().Validate(); err != nil {
		return err
	}
	if req.Quantity < 1 || req.Quantity > s.maxUnits {
		return domain.Invalidf("quantity must be between 1 and %d", s.maxUnits)
	}
	return nil
}

// purchase reconciles the payment and queues the payer when no unit is left
func (s *ReservationService) purchase(ctx context.Context, req *ReservationRequest) (*domain.ReservationOutcome, error) {
	in := domain.ClaimInput{
		ExternalReference: req.Payment.Reference,
		Source:            req.Payment.Source,
		UserID:            req.UserID,
		EventID:           req.EventID,
		PassID:            req.PassID,
		Units:             req.Quantity,
		Amount:            req.Payment.Amount,
		Currency:          req.Payment.Currency,
		Payer:             req.Payment.Payer,
	}
	v := req.Payment.Verifier
	if v == nil {
		var err error
		if v, err = s.verifiers.For(in.Source); err != nil {
			return nil, err
		}
	}

	res, err := s.gate.Reconcile(ctx, in, v)
	switch {
	case err == nil:
		return domain.Issued(res.Ticket), nil
	case errors.Is(err, domain.ErrCapacityExceeded):
		return s.queuePayer(ctx, req, in, v, err)
	case domain.IsStateConflict(err):
		return domain.Rejected(err), nil
	}
	return nil, err
}

// queuePayer puts a verified payer without inventory on the waiting list.
// The claim stays verified; the payer's offer is redeemed by replaying it.
func (s *ReservationService) queuePayer(ctx context.Context, req *ReservationRequest, in domain.ClaimInput, v verifier.Verifier, exceeded error) (*domain.ReservationOutcome, error) {
	key := req.CapacityKey()
	reference := claimReference(exceeded)

	entry, err := s.waitlist.Enqueue(ctx, req.UserID, key, req.Quantity, reference)
	if errors.Is(err, domain.ErrAlreadyQueued) {
		existing, pos, perr := s.waitlist.Position(ctx, req.UserID, req.EventID)
		if perr == nil && existing.CapacityKey() == key && existing.Status == domain.WaitlistWaiting {
			return domain.Queued(existing, pos), nil
		}
		return domain.Rejected(err), nil
	}
	if err != nil {
		return nil, err
	}

	if entry.Status == domain.WaitlistOffered {
		// promoted on arrival: the offer holds the units, redeem it now
		in.ExternalReference = reference
		res, err := s.gate.Reconcile(ctx, in, v)
		if err != nil {
			s.log.WarnContext(ctx, "Failed to redeem offer granted on arrival",
				zap.String("entry_id", entry.ID),
				zap.String("claim_reference", reference),
				zap.Error(err),
			)
			return domain.Offered(entry), nil
		}
		return domain.Issued(res.Ticket), nil
	}

	pos, err := s.waitlist.positionOf(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "Verified payer queued",
		zap.String("user_id", req.UserID),
		zap.String("capacity_key", key.String()),
		zap.String("claim_reference", reference),
		zap.Int("position", pos),
	)
	return domain.Queued(entry, pos), nil
}

// checkout holds units behind an offer when they are free and queues the user otherwise
func (s *ReservationService) checkout(ctx context.Context, req *ReservationRequest) (*domain.ReservationOutcome, error) {
	key := req.CapacityKey()

	var outcome *domain.ReservationOutcome
	err := s.ledger.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		existing, err := s.waitlist.entries.GetLive(ctx, req.UserID, req.EventID)
		if err == nil {
			outcome = domain.Rejected(domain.NewError(domain.ErrAlreadyQueued, existing.CapacityKey(), "", "entry "+existing.ID))
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		// free units never go to a newcomer while someone is queued ahead
		queued, err := s.waitlist.hasWaitingLocked(ctx, scope)
		if err != nil {
			return err
		}
		reserved := domain.Exhausted
		if !queued {
			if reserved, err = scope.TryReserve(ctx, req.Quantity); err != nil {
				return err
			}
		}

		if reserved == domain.Reserved {
			entry, err := s.waitlist.offerLocked(ctx, scope, req.UserID, req.Quantity)
			if err != nil {
				s.waitlist.undoReserve(ctx, scope, req.Quantity)
				if errors.Is(err, domain.ErrAlreadyQueued) {
					outcome = domain.Rejected(err)
					return nil
				}
				return err
			}
			outcome = domain.Offered(entry)
			return nil
		}

		entry, err := s.waitlist.enqueueLocked(ctx, scope, req.UserID, req.Quantity, "")
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyQueued) {
				outcome = domain.Rejected(err)
				return nil
			}
			return err
		}
		if entry.Status == domain.WaitlistOffered {
			outcome = domain.Offered(entry)
			return nil
		}
		pos, err := s.waitlist.positionOf(ctx, entry)
		if err != nil {
			return err
		}
		outcome = domain.Queued(entry, pos)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// GetQueueStatus is a display read of the waiting list of an event or pass
func (s *ReservationService) GetQueueStatus(ctx context.Context, eventID, passID string) (*domain.QueueStatus, error) {
	key := domain.NewCapacityKey(eventID, passID)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.waitlist.QueueStatus(ctx, key)
}

// GetPosition returns the user's live entry for an event and its position
func (s *ReservationService) GetPosition(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, int, error) {
	if userID == "" || eventID == "" {
		return nil, 0, domain.Invalidf("user id and event id are required")
	}
	return s.waitlist.Position(ctx, userID, eventID)
}

// LeaveQueue ends the user's live entry for an event
func (s *ReservationService) LeaveQueue(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error) {
	if userID == "" || eventID == "" {
		return nil, domain.Invalidf("user id and event id are required")
	}
	return s.waitlist.Leave(ctx, userID, eventID)
}

// claimReference extracts the canonical claim reference carried by err
func claimReference(err error) string {
	var re *domain.ReservationError
	if errors.As(err, &re) {
		return re.ClaimReference
	}
	return ""
}
