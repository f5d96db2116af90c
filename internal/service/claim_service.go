package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// DefaultClaimListLimit bounds admin claim listings
const DefaultClaimListLimit = 100

// ClaimService administers payment claims: manual notifications wait here
// until an admin approves or rejects them.
type ClaimService struct {
	claims  repository.ClaimRepository
	catalog repository.CatalogRepository
	gate    *ReconciliationGate
	locker  lock.Locker
	retry   *retry.Config
	now     func() time.Time
	log     *logger.Logger
}

// NewClaimService creates a new ClaimService
func NewClaimService(claims repository.ClaimRepository, catalog repository.CatalogRepository, gate *ReconciliationGate, locker lock.Locker, retryCfg *retry.Config) *ClaimService {
	if retryCfg == nil {
		retryCfg = retry.ConflictConfig()
	}
	return &ClaimService{
		claims:  claims,
		catalog: catalog,
		gate:    gate,
		locker:  locker,
		retry:   retryCfg,
		now:     time.Now,
		log:     logger.Get(),
	}
}

// SubmitManualClaim stores a pending manual notification. Submitting the
// same purchase twice returns the stored claim.
func (s *ClaimService) SubmitManualClaim(ctx context.Context, in domain.ClaimInput) (*domain.PaymentClaim, error) {
	ctx, span := telemetry.StartSpan(ctx, "claims.submit_manual")
	defer span.End()

	in.Source = domain.SourceManualNotification
	candidate, err := domain.NewPaymentClaim(in, s.now())
	if err != nil {
		return nil, err
	}
	pass, err := s.catalog.GetPass(ctx, in.EventID, in.PassID)
	if err != nil {
		return nil, err
	}
	if pass.Cancelled {
		return nil, domain.NewError(domain.ErrInvalid, in.CapacityKey(), candidate.ExternalReference, "event is cancelled")
	}

	ref := candidate.ExternalReference
	var claim *domain.PaymentClaim
	err = withLock(ctx, s.locker, s.retry, lock.ClaimKey(ref), func(ctx context.Context) error {
		existing, err := s.claims.GetByReference(ctx, ref)
		if err == nil {
			if !existing.SamePurchase(in) {
				return domain.NewError(domain.ErrInvalid, in.CapacityKey(), ref, "reference already used for a different purchase")
			}
			claim = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := s.claims.Create(ctx, candidate); err != nil {
			return err
		}
		claim = candidate
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, domain.NewError(err, in.CapacityKey(), ref, "")
	}

	s.log.InfoContext(ctx, "Manual payment claim submitted",
		zap.String("claim_reference", claim.ExternalReference),
		zap.String("user_id", claim.UserID),
		zap.String("capacity_key", claim.CapacityKey().String()),
	)
	return claim, nil
}

// GetClaim returns a claim by its external reference
func (s *ClaimService) GetClaim(ctx context.Context, reference string) (*domain.PaymentClaim, error) {
	return s.claims.GetByReference(ctx, reference)
}

// ApproveClaim reconciles a stored claim with an admin's approval
func (s *ClaimService) ApproveClaim(ctx context.Context, reference, admin string) (*ReconcileResult, error) {
	approval, err := verifier.NewApproval(admin)
	if err != nil {
		return nil, err
	}
	claim, err := s.claims.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	res, err := s.gate.Reconcile(ctx, inputOf(claim), approval)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "Payment claim approved",
		zap.String("claim_reference", reference),
		zap.String("admin", admin),
		zap.String("ticket_id", res.Ticket.ID),
	)
	return res, nil
}

// RejectClaim records an admin's rejection of a pending claim
func (s *ClaimService) RejectClaim(ctx context.Context, reference, admin, reason string) (*domain.PaymentClaim, error) {
	rejection, err := verifier.NewRejection(admin, reason)
	if err != nil {
		return nil, err
	}
	claim, err := s.claims.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	_, err = s.gate.reconcile(ctx, inputOf(claim), rejection, true)
	if err == nil || !errors.Is(err, domain.ErrPaymentNotVerified) {
		if err == nil {
			err = domain.NewError(domain.ErrInvalid, claim.CapacityKey(), reference, "claim was not rejected")
		}
		return nil, err
	}
	return s.claims.GetByReference(ctx, reference)
}

// OperatorEntry reconciles a payment an operator took in person
func (s *ClaimService) OperatorEntry(ctx context.Context, in domain.ClaimInput, operator string) (*ReconcileResult, error) {
	v, err := verifier.NewOperator(operator)
	if err != nil {
		return nil, err
	}
	in.Source = domain.SourceOperatorEntry
	return s.gate.Reconcile(ctx, in, v)
}

// ListClaims returns claims newest first
func (s *ClaimService) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error) {
	if filter.Limit <= 0 || filter.Limit > DefaultClaimListLimit {
		filter.Limit = DefaultClaimListLimit
	}
	return s.claims.List(ctx, filter)
}

// ClaimStats aggregates claims, optionally for one event
func (s *ClaimService) ClaimStats(ctx context.Context, eventID string) (*domain.ClaimStats, error) {
	return s.claims.Stats(ctx, eventID)
}

func inputOf(c *domain.PaymentClaim) domain.ClaimInput {
	return domain.ClaimInput{
		ExternalReference: c.ExternalReference,
		Source:            c.Source,
		UserID:            c.UserID,
		EventID:           c.EventID,
		PassID:            c.PassID,
		Units:             c.Units,
		Amount:            c.Amount,
		Currency:          c.Currency,
		Payer:             c.Payer,
	}
}
