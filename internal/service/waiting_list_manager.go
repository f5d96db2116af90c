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
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// DefaultOfferTTL is how long a promoted entry may take to pay
const DefaultOfferTTL = 15 * time.Minute

// WaitingListManager owns waiting list entries. Promotions consume ledger
// units and therefore only run inside InventoryLedger.Atomically.
type WaitingListManager struct {
	entries   repository.WaitlistRepository
	ledger    *InventoryLedger
	publisher EventPublisher
	offerTTL  time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewWaitingListManager creates the manager and installs it as the ledger's release cascade
func NewWaitingListManager(entries repository.WaitlistRepository, ledger *InventoryLedger, publisher EventPublisher, offerTTL time.Duration) *WaitingListManager {
	if offerTTL <= 0 {
		offerTTL = DefaultOfferTTL
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	m := &WaitingListManager{
		entries:   entries,
		ledger:    ledger,
		publisher: publisher,
		offerTTL:  offerTTL,
		now:       time.Now,
		log:       logger.Get(),
	}
	ledger.SetReleaseHook(m.cascade)
	return m
}

// Enqueue adds a waiting entry for user. If units are free and the entry
// reaches the head of the queue it is promoted at once, so the returned
// entry may already be offered.
func (m *WaitingListManager) Enqueue(ctx context.Context, userID string, key domain.CapacityKey, quantity int, claimReference string) (*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "waitlist.enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", key.String()), attribute.String("user_id", userID))

	var entry *domain.WaitingListEntry
	err := m.ledger.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		var err error
		entry, err = m.enqueueLocked(ctx, scope, userID, quantity, claimReference)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return entry, nil
}

func (m *WaitingListManager) enqueueLocked(ctx context.Context, scope *LedgerScope, userID string, quantity int, claimReference string) (*domain.WaitingListEntry, error) {
	entry, err := domain.NewWaitingListEntry(userID, scope.Key(), quantity, m.now())
	if err != nil {
		return nil, err
	}
	entry.ClaimReference = claimReference
	if err := m.entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	metrics.QueueJoined.Inc()

	// free units with nobody ahead: promote now instead of waiting for the next release
	for {
		promoted, err := m.promoteLocked(ctx, scope)
		if err != nil {
			m.log.WarnContext(ctx, "Promotion after enqueue failed", zap.String("capacity_key", scope.Key().String()), zap.Error(err))
			break
		}
		if promoted == nil {
			break
		}
		if promoted.ID == entry.ID {
			return promoted, nil
		}
	}
	return entry, nil
}

// PromoteNext offers the oldest waiting entry of key a purchase window. It
// returns nil when nobody waits or the head does not fit the free units.
func (m *WaitingListManager) PromoteNext(ctx context.Context, key domain.CapacityKey) (*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "waitlist.promote_next")
	defer span.End()

	var promoted *domain.WaitingListEntry
	err := m.ledger.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		var err error
		promoted, err = m.promoteLocked(ctx, scope)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return promoted, err
}

func (m *WaitingListManager) promoteLocked(ctx context.Context, scope *LedgerScope) (*domain.WaitingListEntry, error) {
	head, err := m.entries.NextWaiting(ctx, scope.Key())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// strict FIFO: a head that does not fit blocks the queue rather than being skipped
	res, err := scope.TryReserve(ctx, head.Quantity)
	if err != nil || res == domain.Exhausted {
		return nil, err
	}

	if err := head.Offer(m.now(), m.offerTTL); err != nil {
		m.undoReserve(ctx, scope, head.Quantity)
		return nil, err
	}
	if err := m.entries.Update(ctx, head); err != nil {
		m.undoReserve(ctx, scope, head.Quantity)
		return nil, err
	}

	m.granted(ctx, head)
	return head, nil
}

// offerLocked records an offered entry for units the caller has just
// reserved through scope. The caller undoes the reservation on error.
func (m *WaitingListManager) offerLocked(ctx context.Context, scope *LedgerScope, userID string, quantity int) (*domain.WaitingListEntry, error) {
	now := m.now()
	entry, err := domain.NewWaitingListEntry(userID, scope.Key(), quantity, now)
	if err != nil {
		return nil, err
	}
	if err := entry.Offer(now, m.offerTTL); err != nil {
		return nil, err
	}
	if err := m.entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	m.granted(ctx, entry)
	return entry, nil
}

func (m *WaitingListManager) granted(ctx context.Context, e *domain.WaitingListEntry) {
	metrics.OffersGranted.Inc()
	metrics.LiveOffers.Inc()
	m.log.InfoContext(ctx, "Offer granted",
		zap.String("entry_id", e.ID),
		zap.String("user_id", e.UserID),
		zap.String("capacity_key", e.CapacityKey().String()),
		zap.Timep("expires_at", e.OfferExpiresAt),
	)
	m.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventOfferGranted,
		CapacityKey: e.CapacityKey().String(),
		UserID:      e.UserID,
		EntryID:     e.ID,
		Quantity:    e.Quantity,
		ExpiresAt:   e.OfferExpiresAt,
		OccurredAt:  *e.OfferedAt,
	})
}

func (m *WaitingListManager) undoReserve(ctx context.Context, scope *LedgerScope, units int) {
	if _, err := scope.Release(ctx, units); err != nil {
		m.log.ErrorContext(ctx, "Failed to undo reservation",
			zap.String("capacity_key", scope.Key().String()),
			zap.Int("units", units),
			zap.Error(err),
		)
	}
}

// hasWaitingLocked reports whether anyone is queued for the key of scope
func (m *WaitingListManager) hasWaitingLocked(ctx context.Context, scope *LedgerScope) (bool, error) {
	_, err := m.entries.NextWaiting(ctx, scope.Key())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// drainLocked promotes heads until the queue is empty or the head does not fit
func (m *WaitingListManager) drainLocked(ctx context.Context, scope *LedgerScope) (int, error) {
	promoted := 0
	for {
		e, err := m.promoteLocked(ctx, scope)
		if err != nil || e == nil {
			return promoted, err
		}
		promoted++
	}
}

// cascade promotes at most one entry per freed unit
func (m *WaitingListManager) cascade(ctx context.Context, scope *LedgerScope, freed int) (int, error) {
	promoted := 0
	for promoted < freed {
		e, err := m.promoteLocked(ctx, scope)
		if err != nil {
			return promoted, err
		}
		if e == nil {
			break
		}
		promoted++
	}
	return promoted, nil
}

// liveEntryLocked returns the user's live entry for key, or nil
func (m *WaitingListManager) liveEntryLocked(ctx context.Context, userID string, key domain.CapacityKey) (*domain.WaitingListEntry, error) {
	e, err := m.entries.GetLive(ctx, userID, key.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if e.CapacityKey() != key {
		return nil, nil
	}
	return e, nil
}

// fulfilLocked marks entry purchased. The caller holds the capacity lock.
func (m *WaitingListManager) fulfilLocked(ctx context.Context, entry *domain.WaitingListEntry) error {
	wasOffered := entry.Status == domain.WaitlistOffered
	if err := entry.Fulfil(m.now()); err != nil {
		return err
	}
	if err := m.entries.Update(ctx, entry); err != nil {
		return err
	}
	if wasOffered {
		metrics.OffersConsumed.Inc()
		metrics.LiveOffers.Dec()
	}
	return nil
}

// Fulfil marks the entry purchased
func (m *WaitingListManager) Fulfil(ctx context.Context, entryID string) (*domain.WaitingListEntry, error) {
	entry, err := m.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	err = m.ledger.Atomically(ctx, entry.CapacityKey(), func(ctx context.Context, _ *LedgerScope) error {
		if entry, err = m.entries.Get(ctx, entryID); err != nil {
			return err
		}
		return m.fulfilLocked(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// expireLocked ends a live entry. An offered entry gives its units back and
// they cascade to the next waiting entries. A waiting entry that leaves may
// have been the head blocking the queue, so the entries behind it are
// promoted while they fit. The release happens first and is undone if the
// entry cannot be marked, so the entry is never expired while its units are
// still counted, nor are its units freed twice.
func (m *WaitingListManager) expireLocked(ctx context.Context, scope *LedgerScope, entry *domain.WaitingListEntry) (promoted int, err error) {
	held := 0
	if entry.Status == domain.WaitlistOffered {
		if held, err = scope.Release(ctx, entry.Quantity); err != nil {
			return 0, err
		}
	}

	now := m.now()
	if err := entry.Expire(now); err != nil {
		m.rereserve(ctx, scope, held)
		return 0, err
	}
	if err := m.entries.Update(ctx, entry); err != nil {
		m.rereserve(ctx, scope, held)
		return 0, err
	}

	if held == 0 {
		if promoted, err = m.drainLocked(ctx, scope); err != nil {
			m.log.WarnContext(ctx, "Promotion after leave failed", zap.String("capacity_key", scope.Key().String()), zap.Error(err))
		}
		return promoted, nil
	}

	metrics.OffersExpired.Inc()
	metrics.LiveOffers.Dec()
	m.publisher.Publish(ctx, &domain.ReservationEvent{
		EventType:   domain.EventOfferExpired,
		CapacityKey: scope.Key().String(),
		UserID:      entry.UserID,
		EntryID:     entry.ID,
		Quantity:    held,
		OccurredAt:  now,
	})
	if promoted, err = m.cascade(ctx, scope, held); err != nil {
		m.log.WarnContext(ctx, "Waiting list cascade failed", zap.String("capacity_key", scope.Key().String()), zap.Error(err))
	}
	return promoted, nil
}

func (m *WaitingListManager) rereserve(ctx context.Context, scope *LedgerScope, units int) {
	if units == 0 {
		return
	}
	// the lock is still held, so the units just freed are still free
	if res, err := scope.TryReserve(ctx, units); err != nil || res != domain.Reserved {
		m.log.ErrorContext(ctx, "Failed to restore units of an entry that could not be expired",
			zap.String("capacity_key", scope.Key().String()),
			zap.Int("units", units),
			zap.Error(err),
		)
	}
}

// ExpireOffer expires entryID if its offer deadline has passed. It reports
// whether the entry was expired and how many entries were promoted in its place.
func (m *WaitingListManager) ExpireOffer(ctx context.Context, entryID string) (expired bool, promoted int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "waitlist.expire_offer")
	defer span.End()
	span.SetAttributes(attribute.String("entry_id", entryID))

	entry, err := m.entries.Get(ctx, entryID)
	if err != nil {
		return false, 0, err
	}

	err = m.ledger.Atomically(ctx, entry.CapacityKey(), func(ctx context.Context, scope *LedgerScope) error {
		// reload: the user may have paid or left since the sweep listed it
		current, err := m.entries.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if !current.OfferExpired(m.now()) {
			return nil
		}
		promoted, err = m.expireLocked(ctx, scope, current)
		expired = err == nil
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return expired, promoted, err
}

// ListExpiredOffers returns up to limit offers whose deadline has passed
func (m *WaitingListManager) ListExpiredOffers(ctx context.Context, limit int) ([]*domain.WaitingListEntry, error) {
	return m.entries.ListExpiredOffers(ctx, m.now(), limit)
}

// Leave ends the user's live entry for an event. Units held by an offer are released and cascade.
func (m *WaitingListManager) Leave(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error) {
	entry, err := m.entries.GetLive(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	err = m.ledger.Atomically(ctx, entry.CapacityKey(), func(ctx context.Context, scope *LedgerScope) error {
		if entry, err = m.entries.Get(ctx, entry.ID); err != nil {
			return err
		}
		if !entry.IsLive() {
			return domain.NewError(domain.ErrInvalid, entry.CapacityKey(), "", "entry is already "+string(entry.Status))
		}
		_, err = m.expireLocked(ctx, scope, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// QueueStatus summarises the live entries of key for display
func (m *WaitingListManager) QueueStatus(ctx context.Context, key domain.CapacityKey) (*domain.QueueStatus, error) {
	live, err := m.entries.ListLive(ctx, key)
	if err != nil {
		return nil, err
	}

	status := &domain.QueueStatus{EventID: key.EventID, PassID: key.PassID}
	for _, e := range live {
		switch e.Status {
		case domain.WaitlistWaiting:
			status.WaitingCount++
		case domain.WaitlistOffered:
			status.OfferedCount++
			if status.NextOfferEta == nil || e.OfferExpiresAt.Before(*status.NextOfferEta) {
				eta := *e.OfferExpiresAt
				status.NextOfferEta = &eta
			}
		}
	}
	return status, nil
}

// Position returns the user's live entry for an event and its 1-based place
// among waiting entries of its capacity key. Offered entries are at position 0.
func (m *WaitingListManager) Position(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, int, error) {
	entry, err := m.entries.GetLive(ctx, userID, eventID)
	if err != nil {
		return nil, 0, err
	}
	if entry.Status == domain.WaitlistOffered {
		return entry, 0, nil
	}
	pos, err := m.positionOf(ctx, entry)
	return entry, pos, err
}

func (m *WaitingListManager) positionOf(ctx context.Context, entry *domain.WaitingListEntry) (int, error) {
	live, err := m.entries.ListLive(ctx, entry.CapacityKey())
	if err != nil {
		return 0, err
	}
	pos := 0
	for _, e := range live {
		if e.Status != domain.WaitlistWaiting {
			continue
		}
		pos++
		if e.ID == entry.ID {
			return pos, nil
		}
	}
	return 0, nil
}
