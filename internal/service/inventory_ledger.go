package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// ReleaseHook runs inside the capacity lock after units were freed and
// returns how many waiting entries it promoted.
type ReleaseHook func(ctx context.Context, scope *LedgerScope, freed int) (int, error)

// InventoryLedger is the authority on remaining capacity. Every mutation of a
// capacity key, and every promotion that consumes it, happens inside
// Atomically for that key.
type InventoryLedger struct {
	capacities repository.CapacityRepository
	catalog    repository.CatalogRepository
	locker     lock.Locker
	retry      *retry.Config
	onRelease  ReleaseHook
	now        func() time.Time
	log        *logger.Logger
}

// NewInventoryLedger creates a new InventoryLedger
func NewInventoryLedger(
	capacities repository.CapacityRepository,
	catalog repository.CatalogRepository,
	locker lock.Locker,
	retryCfg *retry.Config,
) *InventoryLedger {
	if retryCfg == nil {
		retryCfg = retry.ConflictConfig()
	}
	return &InventoryLedger{
		capacities: capacities,
		catalog:    catalog,
		locker:     locker,
		retry:      retryCfg,
		now:        time.Now,
		log:        logger.Get(),
	}
}

// SetReleaseHook installs the waiting list cascade
func (l *InventoryLedger) SetReleaseHook(h ReleaseHook) {
	l.onRelease = h
}

// LedgerScope is the view of one capacity key handed to code running under its lock
type LedgerScope struct {
	ledger *InventoryLedger
	key    domain.CapacityKey
}

// Key returns the locked capacity key
func (s *LedgerScope) Key() domain.CapacityKey {
	return s.key
}

// TryReserve reserves units if they fit within the total
func (s *LedgerScope) TryReserve(ctx context.Context, units int) (domain.ReserveResult, error) {
	res, err := s.ledger.capacities.TryReserve(ctx, s.key, units)
	if errors.Is(err, domain.ErrNotFound) {
		if _, err = s.ledger.EnsureCapacity(ctx, s.key); err != nil {
			return domain.Exhausted, err
		}
		res, err = s.ledger.capacities.TryReserve(ctx, s.key, units)
	}
	if err != nil {
		return domain.Exhausted, err
	}
	if res == domain.Exhausted {
		metrics.CapacityExhausted.Inc()
	}
	return res, nil
}

// Release frees units without promoting anyone. Used to undo a reservation
// whose follow-up step failed.
func (s *LedgerScope) Release(ctx context.Context, units int) (int, error) {
	return s.ledger.capacities.Release(ctx, s.key, units)
}

// ReleaseAndCascade frees units and offers them to the waiting list. A
// cascade failure is logged; the units stay free and the next release or
// enqueue on the key promotes again.
func (s *LedgerScope) ReleaseAndCascade(ctx context.Context, units int) (freed, promoted int, err error) {
	freed, err = s.Release(ctx, units)
	if err != nil || freed == 0 || s.ledger.onRelease == nil {
		return freed, 0, err
	}
	promoted, cerr := s.ledger.onRelease(ctx, s, freed)
	if cerr != nil {
		s.ledger.log.WarnContext(ctx, "Waiting list cascade failed",
			zap.String("capacity_key", s.key.String()),
			zap.Int("freed", freed),
			zap.Error(cerr),
		)
	}
	return freed, promoted, nil
}

// Atomically runs fn while holding the capacity lock for key
func (l *InventoryLedger) Atomically(ctx context.Context, key domain.CapacityKey, fn func(ctx context.Context, scope *LedgerScope) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := withLock(ctx, l.locker, l.retry, lock.CapacityKey(key), func(ctx context.Context) error {
		return fn(ctx, &LedgerScope{ledger: l, key: key})
	})
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return domain.NewError(err, key, "", "")
	}
	return err
}

// TryReserve atomically reserves units of key
func (l *InventoryLedger) TryReserve(ctx context.Context, key domain.CapacityKey, units int) (domain.ReserveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ledger.try_reserve")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", key.String()), attribute.Int("units", units))

	var res domain.ReserveResult
	err := l.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		var err error
		res, err = scope.TryReserve(ctx, units)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return res, err
}

// Release frees units of key and cascades the freed units to the waiting list
func (l *InventoryLedger) Release(ctx context.Context, key domain.CapacityKey, units int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "ledger.release")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", key.String()), attribute.Int("units", units))

	var freed int
	err := l.Atomically(ctx, key, func(ctx context.Context, scope *LedgerScope) error {
		var err error
		freed, _, err = scope.ReleaseAndCascade(ctx, units)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return freed, err
}

// EnsureCapacity returns the capacity of key, creating it from the catalog on first use
func (l *InventoryLedger) EnsureCapacity(ctx context.Context, key domain.CapacityKey) (*domain.EventCapacity, error) {
	c, err := l.capacities.Get(ctx, key)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return c, err
	}

	pass, err := l.catalog.GetPass(ctx, key.EventID, key.PassID)
	if err != nil {
		return nil, err
	}
	c, err = domain.NewEventCapacity(key, pass.TotalQuantity, l.now())
	if err != nil {
		return nil, err
	}
	return l.capacities.CreateIfAbsent(ctx, c)
}

// Define creates key with total units. The total of an existing key never changes.
func (l *InventoryLedger) Define(ctx context.Context, key domain.CapacityKey, total int) (*domain.EventCapacity, error) {
	c, err := domain.NewEventCapacity(key, total, l.now())
	if err != nil {
		return nil, err
	}
	stored, err := l.capacities.CreateIfAbsent(ctx, c)
	if err != nil {
		return nil, err
	}
	if stored.TotalQuantity != total {
		return stored, domain.NewError(domain.ErrInvalid, key, "", "total quantity is fixed once defined")
	}
	return stored, nil
}

// DefinePass records a sellable event or pass in the catalog and creates its
// capacity. Price and cancellation may change later; the total may not.
func (l *InventoryLedger) DefinePass(ctx context.Context, pass domain.PassSnapshot) (*domain.EventCapacity, error) {
	ctx, span := telemetry.StartSpan(ctx, "ledger.define_pass")
	defer span.End()

	key := pass.CapacityKey()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if pass.Price.IsNegative() {
		return nil, domain.NewError(domain.ErrInvalid, key, "", "price cannot be negative")
	}
	existing, err := l.capacities.Get(ctx, key)
	switch {
	case err == nil && existing.TotalQuantity != pass.TotalQuantity:
		return existing, domain.NewError(domain.ErrInvalid, key, "", "total quantity is fixed once defined")
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		telemetry.RecordError(span, err)
		return nil, err
	}

	pass.EventID, pass.PassID = key.EventID, key.PassID
	if err := l.catalog.Upsert(ctx, &pass); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return l.Define(ctx, key, pass.TotalQuantity)
}

// Get is a display read; it may be stale by the time the caller acts on it
func (l *InventoryLedger) Get(ctx context.Context, key domain.CapacityKey) (*domain.EventCapacity, error) {
	return l.capacities.Get(ctx, key)
}

// ListByEvent returns all capacity keys of an event
func (l *InventoryLedger) ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error) {
	return l.capacities.ListByEvent(ctx, eventID)
}
