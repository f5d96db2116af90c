package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// ReconcileResult is a successful reconciliation
type ReconcileResult struct {
	Ticket *domain.Ticket
	Claim  *domain.PaymentClaim
	// Replayed is set when the ticket already existed for the reference
	Replayed bool
	// ConsumedOffer is set when the units came from the payer's live offer
	ConsumedOffer bool
}

// ReconciliationGate is the only path from a reported payment to a ticket.
// Every entry point (checkout, gateway callback, admin approval, operator
// entry, intake consumer) funnels through Reconcile.
type ReconciliationGate struct {
	claims    repository.ClaimRepository
	tickets   repository.TicketRepository
	catalog   repository.CatalogRepository
	ledger    *InventoryLedger
	waitlist  *WaitingListManager
	issuer    *TicketIssuer
	locker    lock.Locker
	publisher EventPublisher
	retry     *retry.Config
	now       func() time.Time
	log       *logger.Logger
}

// ReconciliationGateConfig holds the gate's collaborators
type ReconciliationGateConfig struct {
	Claims    repository.ClaimRepository
	Tickets   repository.TicketRepository
	Catalog   repository.CatalogRepository
	Ledger    *InventoryLedger
	Waitlist  *WaitingListManager
	Issuer    *TicketIssuer
	Locker    lock.Locker
	Publisher EventPublisher
	Retry     *retry.Config
}

// NewReconciliationGate creates a new ReconciliationGate
func NewReconciliationGate(cfg *ReconciliationGateConfig) *ReconciliationGate {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.ConflictConfig()
	}
	return &ReconciliationGate{
		claims:    cfg.Claims,
		tickets:   cfg.Tickets,
		catalog:   cfg.Catalog,
		ledger:    cfg.Ledger,
		waitlist:  cfg.Waitlist,
		issuer:    cfg.Issuer,
		locker:    cfg.Locker,
		publisher: publisher,
		retry:     retryCfg,
		now:       time.Now,
		log:       logger.Get(),
	}
}

// Reconcile matches a reported payment to inventory and mints at most one
// ticket per external reference. Verification runs under the claim lock
// only; the capacity lock is taken after the verifier has answered.
func (g *ReconciliationGate) Reconcile(ctx context.Context, in domain.ClaimInput, v verifier.Verifier) (*ReconcileResult, error) {
	return g.reconcile(ctx, in, v, false)
}

// reconcile with pendingOnly refuses claims that were already decided,
// which is what an admin rejection needs.
func (g *ReconciliationGate) reconcile(ctx context.Context, in domain.ClaimInput, v verifier.Verifier, pendingOnly bool) (res *ReconcileResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "gate.reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "issued"
		switch {
		case err != nil:
			outcome = string(domain.KindOf(err))
		case res.Replayed:
			outcome = "replayed"
		}
		metrics.ReconcileOutcomes.WithLabelValues(string(in.Source), outcome).Inc()
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	candidate, err := domain.NewPaymentClaim(in, g.now())
	if err != nil {
		return nil, err
	}
	ref := candidate.ExternalReference
	span.SetAttributes(
		attribute.String("claim_reference", ref),
		attribute.String("capacity_key", candidate.CapacityKey().String()),
		attribute.String("source", string(in.Source)),
	)

	err = withLock(ctx, g.locker, g.retry, lock.ClaimKey(ref), func(ctx context.Context) error {
		var err error
		res, err = g.reconcileLocked(ctx, candidate, in, v, pendingOnly)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, domain.NewError(err, candidate.CapacityKey(), ref, "")
	}
	return res, nil
}

func (g *ReconciliationGate) reconcileLocked(ctx context.Context, candidate *domain.PaymentClaim, in domain.ClaimInput, v verifier.Verifier, pendingOnly bool) (*ReconcileResult, error) {
	ref := candidate.ExternalReference
	claim, err := g.claims.GetByReference(ctx, ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		claim = candidate
		if err := g.claims.Create(ctx, claim); err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				return nil, err
			}
			if claim, err = g.claims.GetByReference(ctx, ref); err != nil {
				return nil, err
			}
		}
	case err != nil:
		return nil, err
	}

	if !claim.SamePurchase(in) {
		return nil, domain.NewError(domain.ErrInvalid, in.CapacityKey(), ref, "reference already used for a different purchase")
	}
	if pendingOnly && claim.Status != domain.ClaimPending {
		return nil, claim.Clone().Reject(g.now(), "")
	}

	// idempotent replay: never touch inventory twice
	if claim.TicketCreated {
		ticket, err := g.tickets.Get(ctx, claim.TicketID)
		if err != nil {
			return nil, err
		}
		return &ReconcileResult{Ticket: ticket, Claim: claim, Replayed: true}, nil
	}
	if claim.Status == domain.ClaimRejected {
		return nil, domain.NewError(domain.ErrAlreadyRejected, claim.CapacityKey(), ref, claim.RejectionReason)
	}

	if claim.Status == domain.ClaimPending {
		if err := g.verify(ctx, claim, v); err != nil {
			return nil, err
		}
	}
	return g.issue(ctx, claim)
}

// verify asks v about a pending claim and records its answer
func (g *ReconciliationGate) verify(ctx context.Context, claim *domain.PaymentClaim, v verifier.Verifier) error {
	key := claim.CapacityKey()
	ref := claim.ExternalReference

	pass, err := g.catalog.GetPass(ctx, claim.EventID, claim.PassID)
	if err != nil {
		return err
	}
	if pass.Cancelled {
		return domain.NewError(domain.ErrInvalid, key, ref, "event is cancelled")
	}
	expected := pass.Price.Mul(decimal.NewFromInt(int64(claim.Units)))
	if claim.Amount.IsZero() {
		// an unstated amount is verified against the full price
		claim.Amount = expected
	}
	if claim.Amount.LessThan(expected) {
		return g.reject(ctx, claim, fmt.Sprintf("claimed amount %s is below the price %s", claim.Amount, expected))
	}

	verification, err := v.Verify(ctx, ref, claim.Amount, claim.Payer)
	if err != nil {
		metrics.VerifierResults.WithLabelValues(v.Name(), "error").Inc()
		g.log.WarnContext(ctx, "Payment verification failed",
			zap.String("claim_reference", ref),
			zap.String("verifier", v.Name()),
			zap.Error(err),
		)
		return domain.NewError(domain.ErrVerificationPending, key, ref, err.Error())
	}
	metrics.VerifierResults.WithLabelValues(v.Name(), string(verification.Result)).Inc()

	switch verification.Result {
	case domain.Captured:
		by := verification.VerifiedBy
		if by == "" {
			by = v.Name()
		}
		if err := claim.MarkVerified(g.now(), by); err != nil {
			return err
		}
		return g.claims.Update(ctx, claim)
	case domain.NotCaptured:
		return g.reject(ctx, claim, verification.Reason)
	default:
		return domain.NewError(domain.ErrVerificationPending, key, ref, verification.Reason)
	}
}

func (g *ReconciliationGate) reject(ctx context.Context, claim *domain.PaymentClaim, reason string) error {
	if reason == "" {
		reason = "payment not captured"
	}
	now := g.now()
	if err := claim.Reject(now, reason); err != nil {
		return err
	}
	if err := g.claims.Update(ctx, claim); err != nil {
		return err
	}

	g.log.InfoContext(ctx, "Payment claim rejected",
		zap.String("claim_reference", claim.ExternalReference),
		zap.String("reason", reason),
	)
	g.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventClaimRejected,
		CapacityKey: claim.CapacityKey().String(),
		UserID:      claim.UserID,
		Reference:   claim.ExternalReference,
		Quantity:    claim.Units,
		Reason:      reason,
		OccurredAt:  now,
	})
	return domain.NewError(domain.ErrPaymentNotVerified, claim.CapacityKey(), claim.ExternalReference, reason)
}

// issue runs step 5 for a verified claim without a ticket
func (g *ReconciliationGate) issue(ctx context.Context, claim *domain.PaymentClaim) (*ReconcileResult, error) {
	key := claim.CapacityKey()
	ref := claim.ExternalReference

	// a ticket minted before the claim could be marked: repair the claim
	existing, err := g.tickets.GetByPaymentReference(ctx, ref)
	if err == nil {
		if err := g.settleOffer(ctx, claim); err != nil {
			return nil, err
		}
		if err := claim.MarkTicketCreated(existing.ID, g.now()); err != nil {
			return nil, err
		}
		if err := g.claims.Update(ctx, claim); err != nil {
			return nil, err
		}
		return &ReconcileResult{Ticket: existing, Claim: claim, Replayed: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	res := &ReconcileResult{Claim: claim}
	err = g.ledger.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		entry, err := g.waitlist.liveEntryLocked(ctx, claim.UserID, key)
		if err != nil {
			return err
		}

		if entry != nil && entry.HoldsUnits(g.now()) && entry.Quantity == claim.Units {
			res.ConsumedOffer = true
		} else {
			// a stale or mismatched offer gives its units back first; the
			// payer then competes for capacity like any direct purchase
			if entry != nil && entry.Status == domain.WaitlistOffered {
				if _, err := g.waitlist.expireLocked(ctx, scope, entry); err != nil {
					return err
				}
				entry = nil
			}
			reserved, err := scope.TryReserve(ctx, claim.Units)
			if err != nil {
				return err
			}
			if reserved == domain.Exhausted {
				return domain.NewError(domain.ErrCapacityExceeded, key, ref, "payment verified but no inventory left")
			}
		}

		ticket, err := g.issuer.Issue(ctx, domain.IssueRequest{
			EventID:          claim.EventID,
			PassID:           claim.PassID,
			UserID:           claim.UserID,
			PaymentReference: ref,
			Quantity:         claim.Units,
			Amount:           claim.Amount,
		})
		if err != nil {
			if !res.ConsumedOffer {
				g.waitlist.undoReserve(ctx, scope, claim.Units)
			}
			return err
		}
		res.Ticket = ticket

		// the entry is settled before the claim so a consumed offer can never be swept later
		if entry != nil {
			if err := g.waitlist.fulfilLocked(ctx, entry); err != nil {
				if res.ConsumedOffer {
					return err
				}
				g.log.WarnContext(ctx, "Failed to fulfil waiting list entry",
					zap.String("entry_id", entry.ID),
					zap.String("claim_reference", ref),
					zap.Error(err),
				)
			}
		}

		if err := claim.MarkTicketCreated(ticket.ID, g.now()); err != nil {
			return err
		}
		// on failure the ticket stands and a replay repairs the claim through GetByPaymentReference
		return g.claims.Update(ctx, claim)
	})
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			g.log.WarnContext(ctx, "Verified payment without inventory",
				zap.String("claim_reference", ref),
				zap.String("capacity_key", key.String()),
				zap.String("user_id", claim.UserID),
			)
			g.publisher.Publish(ctx, &domain.ReservationEvent{
				EventType:   domain.EventClaimCapacityExceeded,
				CapacityKey: key.String(),
				UserID:      claim.UserID,
				Reference:   ref,
				Quantity:    claim.Units,
				OccurredAt:  g.now(),
			})
		}
		return nil, err
	}
	return res, nil
}

// settleOffer fulfils an offer left live by an interrupted issue, whose
// units already belong to the claim's ticket
func (g *ReconciliationGate) settleOffer(ctx context.Context, claim *domain.PaymentClaim) error {
	return g.ledger.Atomically(ctx, claim.CapacityKey(), func(ctx context.Context, _ *LedgerScope) error {
		entry, err := g.waitlist.liveEntryLocked(ctx, claim.UserID, claim.CapacityKey())
		if err != nil || entry == nil {
			return err
		}
		if entry.Status != domain.WaitlistOffered || entry.Quantity != claim.Units {
			return nil
		}
		return g.waitlist.fulfilLocked(ctx, entry)
	})
}
