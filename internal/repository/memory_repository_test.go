package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

func TestMemoryCapacityRepository_ConcurrentReserve(t *testing.T) {
	repo := NewMemoryCapacityRepository()
	ctx := context.Background()
	key := domain.NewCapacityKey("evt", "")
	c, _ := domain.NewEventCapacity(key, 25, time.Now())
	_, err := repo.CreateIfAbsent(ctx, c)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.TryReserve(ctx, key, 1)
			if err == nil && res == domain.Reserved {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 25, reserved)
	assert.Equal(t, 25, stored.SoldQuantity)
}

func TestMemoryCapacityRepository_CreateIfAbsentKeepsTotal(t *testing.T) {
	repo := NewMemoryCapacityRepository()
	ctx := context.Background()
	key := domain.NewCapacityKey("evt", "vip")

	first, _ := domain.NewEventCapacity(key, 10, time.Now())
	second, _ := domain.NewEventCapacity(key, 99, time.Now())
	_, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	stored, err := repo.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.TotalQuantity)

	_, err = repo.TryReserve(ctx, domain.NewCapacityKey("other", ""), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryWaitlistRepository_OneLiveEntryPerEvent(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	ctx := context.Background()
	now := time.Now()

	first, _ := domain.NewWaitingListEntry("user-1", domain.NewCapacityKey("evt", "ga"), 1, now)
	require.NoError(t, repo.Create(ctx, first))

	// same event, other pass tier: still one live entry per (user, event)
	second, _ := domain.NewWaitingListEntry("user-1", domain.NewCapacityKey("evt", "vip"), 1, now)
	assert.ErrorIs(t, repo.Create(ctx, second), domain.ErrAlreadyQueued)

	require.NoError(t, first.Expire(now))
	require.NoError(t, repo.Update(ctx, first))

	again, _ := domain.NewWaitingListEntry("user-1", domain.NewCapacityKey("evt", "ga"), 1, now)
	require.NoError(t, repo.Create(ctx, again))
	assert.Greater(t, again.Sequence, first.Sequence)
}

func TestMemoryWaitlistRepository_FIFO(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	ctx := context.Background()
	now := time.Now()
	key := domain.NewCapacityKey("evt", "")

	var ids []string
	for _, user := range []string{"a", "b", "c"} {
		e, _ := domain.NewWaitingListEntry(user, key, 1, now)
		require.NoError(t, repo.Create(ctx, e))
		ids = append(ids, e.ID)
	}

	next, err := repo.NextWaiting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ids[0], next.ID)

	live, err := repo.ListLive(ctx, key)
	require.NoError(t, err)
	require.Len(t, live, 3)
	for i, e := range live {
		assert.Equal(t, ids[i], e.ID)
	}
}

func TestMemoryWaitlistRepository_StaleUpdate(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	ctx := context.Background()
	now := time.Now()

	e, _ := domain.NewWaitingListEntry("user-1", domain.NewCapacityKey("evt", ""), 1, now)
	require.NoError(t, repo.Create(ctx, e))

	a, _ := repo.Get(ctx, e.ID)
	b, _ := repo.Get(ctx, e.ID)

	require.NoError(t, a.Offer(now, time.Minute))
	require.NoError(t, repo.Update(ctx, a))

	require.NoError(t, b.Expire(now))
	assert.ErrorIs(t, repo.Update(ctx, b), domain.ErrConcurrencyConflict)
}

func TestMemoryWaitlistRepository_ListExpiredOffers(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	ctx := context.Background()
	now := time.Now()

	for i, user := range []string{"a", "b", "c"} {
		e, _ := domain.NewWaitingListEntry(user, domain.NewCapacityKey("evt", ""), 1, now)
		require.NoError(t, repo.Create(ctx, e))
		if i < 2 {
			require.NoError(t, e.Offer(now.Add(-time.Duration(10-i)*time.Minute), time.Minute))
			require.NoError(t, repo.Update(ctx, e))
		}
	}

	expired, err := repo.ListExpiredOffers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "a", expired[0].UserID)

	limited, err := repo.ListExpiredOffers(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryClaimRepository(t *testing.T) {
	repo := NewMemoryClaimRepository()
	ctx := context.Background()
	now := time.Now()

	claim, err := domain.NewPaymentClaim(domain.ClaimInput{
		ExternalReference: "TXN-1",
		Source:            domain.SourceGatewayCallback,
		UserID:            "user-1",
		EventID:           "evt",
		Units:             1,
		Amount:            decimal.NewFromInt(50),
	}, now)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, claim))
	assert.ErrorIs(t, repo.Create(ctx, claim), ErrDuplicate)

	stored, err := repo.GetByReference(ctx, "TXN-1")
	require.NoError(t, err)
	require.NoError(t, stored.MarkVerified(now, "admin"))
	require.NoError(t, repo.Update(ctx, stored))

	list, err := repo.List(ctx, domain.ClaimFilter{Status: domain.ClaimVerified})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := repo.Stats(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.AwaitingTicket)

	_, err = repo.GetByReference(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryTicketRepository_UniquePaymentReference(t *testing.T) {
	repo := NewMemoryTicketRepository()
	ctx := context.Background()
	req := domain.IssueRequest{EventID: "evt", UserID: "u", PaymentReference: "TXN-1", Quantity: 1}

	first, _ := domain.NewTicket(req, time.Now())
	second, _ := domain.NewTicket(req, time.Now())
	require.NoError(t, repo.Create(ctx, first))
	assert.ErrorIs(t, repo.Create(ctx, second), ErrDuplicate)

	found, err := repo.GetByPaymentReference(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, 1, repo.Count())
}
