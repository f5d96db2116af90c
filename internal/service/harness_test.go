package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
)

const (
	testEvent = "evt-1"
	testPass  = "vip"
)

var testKey = domain.NewCapacityKey(testEvent, testPass)

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*domain.ReservationEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(_ context.Context, event *domain.ReservationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEventPublisher) Close() error {
	return nil
}

// Count returns how many events of type were published
func (m *MockEventPublisher) Count(t domain.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock       *testClock
	capacities  *repository.MemoryCapacityRepository
	entries     *repository.MemoryWaitlistRepository
	claims      *repository.MemoryClaimRepository
	tickets     *repository.MemoryTicketRepository
	catalog     *repository.MemoryCatalogRepository
	publisher   *MockEventPublisher
	gatewayMock *verifier.Mock
	ledger      *InventoryLedger
	waitlist    *WaitingListManager
	issuer      *TicketIssuer
	gate        *ReconciliationGate
	reservation *ReservationService
	claimSvc    *ClaimService
}

func newHarness(t *testing.T, total int) *harness {
	t.Helper()

	h := &harness{
		clock:       &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		capacities:  repository.NewMemoryCapacityRepository(),
		entries:     repository.NewMemoryWaitlistRepository(),
		claims:      repository.NewMemoryClaimRepository(),
		tickets:     repository.NewMemoryTicketRepository(),
		publisher:   NewMockEventPublisher(),
		gatewayMock: verifier.NewMock(domain.Captured),
	}
	h.catalog = repository.NewMemoryCatalogRepository(
		domain.PassSnapshot{EventID: testEvent, PassID: testPass, TotalQuantity: total, Price: decimal.NewFromInt(100)},
		domain.PassSnapshot{EventID: "evt-cancelled", TotalQuantity: 10, Cancelled: true},
	)

	locker := lock.NewLocalLocker(time.Second)
	h.ledger = NewInventoryLedger(h.capacities, h.catalog, locker, nil)
	h.waitlist = NewWaitingListManager(h.entries, h.ledger, h.publisher, 10*time.Minute)
	h.issuer = NewTicketIssuer(h.tickets, h.ledger, h.publisher, nil)
	h.gate = NewReconciliationGate(&ReconciliationGateConfig{
		Claims:    h.claims,
		Tickets:   h.tickets,
		Catalog:   h.catalog,
		Ledger:    h.ledger,
		Waitlist:  h.waitlist,
		Issuer:    h.issuer,
		Locker:    locker,
		Publisher: h.publisher,
	})
	h.reservation = NewReservationService(h.ledger, h.waitlist, h.gate, h.catalog, verifier.NewRegistry(h.gatewayMock), 0)
	h.claimSvc = NewClaimService(h.claims, h.catalog, h.gate, locker, nil)

	h.ledger.now = h.clock.Now
	h.waitlist.now = h.clock.Now
	h.issuer.now = h.clock.Now
	h.gate.now = h.clock.Now
	h.claimSvc.now = h.clock.Now
	return h
}

func (h *harness) sold(t *testing.T) int {
	t.Helper()
	c, err := h.capacities.Get(context.Background(), testKey)
	require.NoError(t, err)
	return c.SoldQuantity
}

func (h *harness) entry(t *testing.T, id string) *domain.WaitingListEntry {
	t.Helper()
	e, err := h.entries.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func gatewayClaim(ref, userID string, units int) domain.ClaimInput {
	return domain.ClaimInput{
		ExternalReference: ref,
		Source:            domain.SourceGatewayCallback,
		UserID:            userID,
		EventID:           testEvent,
		PassID:            testPass,
		Units:             units,
		Amount:            decimal.NewFromInt(int64(100 * units)),
		Currency:          "usd",
	}
}

func checkout(userID string, qty int) *ReservationRequest {
	return &ReservationRequest{UserID: userID, EventID: testEvent, PassID: testPass, Quantity: qty}
}

func paidCheckout(userID, ref string, qty int) *ReservationRequest {
	req := checkout(userID, qty)
	req.Payment = &PaymentDetails{
		Reference: ref,
		Source:    domain.SourceGatewayCallback,
		Amount:    decimal.NewFromInt(int64(100 * qty)),
		Currency:  "usd",
	}
	return req
}
