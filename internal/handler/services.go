package handler

import (
	"context"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/worker"
)

// ReservationService is what the reservation and queue endpoints need
type ReservationService interface {
	RequestTicketOrOffer(ctx context.Context, req *service.ReservationRequest) (*domain.ReservationOutcome, error)
	GetQueueStatus(ctx context.Context, eventID, passID string) (*domain.QueueStatus, error)
	GetPosition(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, int, error)
	LeaveQueue(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error)
}

// ClaimService is what the claim endpoints need
type ClaimService interface {
	SubmitManualClaim(ctx context.Context, in domain.ClaimInput) (*domain.PaymentClaim, error)
	GetClaim(ctx context.Context, reference string) (*domain.PaymentClaim, error)
	ApproveClaim(ctx context.Context, reference, admin string) (*service.ReconcileResult, error)
	RejectClaim(ctx context.Context, reference, admin, reason string) (*domain.PaymentClaim, error)
	OperatorEntry(ctx context.Context, in domain.ClaimInput, operator string) (*service.ReconcileResult, error)
	ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error)
	ClaimStats(ctx context.Context, eventID string) (*domain.ClaimStats, error)
}

// TicketService is what the ticket endpoints need
type TicketService interface {
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Refund(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Scan(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// CapacityService is what the capacity endpoints need
type CapacityService interface {
	DefinePass(ctx context.Context, pass domain.PassSnapshot) (*domain.EventCapacity, error)
	ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error)
}

// Sweeper runs offer expiry on demand
type Sweeper interface {
	RunOnce(ctx context.Context) worker.SweepResult
	GetStats() *worker.OfferSweeperStats
}

var (
	_ ReservationService = (*service.ReservationService)(nil)
	_ ClaimService       = (*service.ClaimService)(nil)
	_ TicketService      = (*service.TicketIssuer)(nil)
	_ CapacityService    = (*service.InventoryLedger)(nil)
	_ Sweeper            = (*worker.OfferSweeper)(nil)
)
