package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
)

// OfferExpirer is the part of the waiting list manager the sweeper drives
type OfferExpirer interface {
	ListExpiredOffers(ctx context.Context, limit int) ([]*domain.WaitingListEntry, error)
	ExpireOffer(ctx context.Context, entryID string) (expired bool, promoted int, err error)
}

// OfferSweeperConfig contains configuration for the offer sweeper
type OfferSweeperConfig struct {
	// SweepInterval is the time between sweeps; an expired offer is reclaimed within one interval
	SweepInterval time.Duration
	// BatchSize is the number of expired offers handled per sweep
	BatchSize int
}

// DefaultOfferSweeperConfig returns default configuration
func DefaultOfferSweeperConfig() *OfferSweeperConfig {
	return &OfferSweeperConfig{
		SweepInterval: 30 * time.Second,
		BatchSize:     100,
	}
}

// SweepResult summarises one sweep
type SweepResult struct {
	Found    int `json:"found"`
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// OfferSweeper expires offers whose purchase window has passed. The deadline
// is enforced here only; clients are never trusted to give units back.
type OfferSweeper struct {
	offers OfferExpirer
	config *OfferSweeperConfig
	log    *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	sweep  sync.Mutex

	running bool

	// Stats
	totalExpired  int64
	totalPromoted int64
	totalFailed   int64
	lastSweepTime time.Time
	lastResult    SweepResult
}

// NewOfferSweeper creates a new offer sweeper
func NewOfferSweeper(offers OfferExpirer, config *OfferSweeperConfig) *OfferSweeper {
	if config == nil {
		config = DefaultOfferSweeperConfig()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultOfferSweeperConfig().SweepInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOfferSweeperConfig().BatchSize
	}
	return &OfferSweeper{
		offers: offers,
		config: config,
		log:    logger.Get(),
		stopCh: make(chan struct{}),
	}
}

// Start starts the sweep loop
func (w *OfferSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("offer sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting offer sweeper", zap.Duration("interval", w.config.SweepInterval), zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the sweep loop and waits for the current sweep to finish
func (w *OfferSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping offer sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Offer sweeper stopped")
}

func (w *OfferSweeper) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps one batch of expired offers. Each entry is expired under its
// capacity key lock and its units cascade to the next waiting entry.
func (w *OfferSweeper) RunOnce(ctx context.Context) SweepResult {
	w.sweep.Lock()
	defer w.sweep.Unlock()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var result SweepResult
	expired, err := w.offers.ListExpiredOffers(ctx, w.config.BatchSize)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to list expired offers", zap.Error(err))
		w.record(start, result)
		return result
	}
	result.Found = len(expired)

	for _, entry := range expired {
		if ctx.Err() != nil {
			break
		}
		ok, promoted, err := w.offers.ExpireOffer(ctx, entry.ID)
		if err != nil {
			result.Failed++
			w.log.ErrorContext(ctx, "Failed to expire offer",
				zap.String("entry_id", entry.ID),
				zap.String("capacity_key", entry.CapacityKey().String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			result.Expired++
			result.Promoted += promoted
		}
	}

	if result.Found > 0 {
		w.log.Info("Offer sweep finished",
			zap.Int("found", result.Found),
			zap.Int("expired", result.Expired),
			zap.Int("promoted", result.Promoted),
			zap.Int("failed", result.Failed),
		)
	}
	w.record(start, result)
	return result
}

func (w *OfferSweeper) record(at time.Time, r SweepResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSweepTime = at
	w.lastResult = r
	w.totalExpired += int64(r.Expired)
	w.totalPromoted += int64(r.Promoted)
	w.totalFailed += int64(r.Failed)
}

// GetStats returns sweeper statistics
func (w *OfferSweeper) GetStats() *OfferSweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &OfferSweeperStats{
		IsRunning:     w.running,
		TotalExpired:  w.totalExpired,
		TotalPromoted: w.totalPromoted,
		TotalFailed:   w.totalFailed,
		LastSweepTime: w.lastSweepTime,
		LastResult:    w.lastResult,
	}
}

// OfferSweeperStats contains sweeper statistics
type OfferSweeperStats struct {
	IsRunning     bool        `json:"is_running"`
	TotalExpired  int64       `json:"total_expired"`
	TotalPromoted int64       `json:"total_promoted"`
	TotalFailed   int64       `json:"total_failed"`
	LastSweepTime time.Time   `json:"last_sweep_time"`
	LastResult    SweepResult `json:"last_result"`
}
