package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/worker"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockReservationService is a mock implementation of ReservationService
type MockReservationService struct {
	mock.Mock
}

func (m *MockReservationService) RequestTicketOrOffer(ctx context.Context, req *service.ReservationRequest) (*domain.ReservationOutcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReservationOutcome), args.Error(1)
}

func (m *MockReservationService) GetQueueStatus(ctx context.Context, eventID, passID string) (*domain.QueueStatus, error) {
	args := m.Called(ctx, eventID, passID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueStatus), args.Error(1)
}

func (m *MockReservationService) GetPosition(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, int, error) {
	args := m.Called(ctx, userID, eventID)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*domain.WaitingListEntry), args.Int(1), args.Error(2)
}

func (m *MockReservationService) LeaveQueue(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error) {
	args := m.Called(ctx, userID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WaitingListEntry), args.Error(1)
}

// MockClaimService is a mock implementation of ClaimService
type MockClaimService struct {
	mock.Mock
}

func (m *MockClaimService) SubmitManualClaim(ctx context.Context, in domain.ClaimInput) (*domain.PaymentClaim, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentClaim), args.Error(1)
}

func (m *MockClaimService) GetClaim(ctx context.Context, reference string) (*domain.PaymentClaim, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentClaim), args.Error(1)
}

func (m *MockClaimService) ApproveClaim(ctx context.Context, reference, admin string) (*service.ReconcileResult, error) {
	args := m.Called(ctx, reference, admin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReconcileResult), args.Error(1)
}

func (m *MockClaimService) RejectClaim(ctx context.Context, reference, admin, reason string) (*domain.PaymentClaim, error) {
	args := m.Called(ctx, reference, admin, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentClaim), args.Error(1)
}

func (m *MockClaimService) OperatorEntry(ctx context.Context, in domain.ClaimInput, operator string) (*service.ReconcileResult, error) {
	args := m.Called(ctx, in, operator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReconcileResult), args.Error(1)
}

func (m *MockClaimService) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PaymentClaim), args.Error(1)
}

func (m *MockClaimService) ClaimStats(ctx context.Context, eventID string) (*domain.ClaimStats, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClaimStats), args.Error(1)
}

// MockTicketService is a mock implementation of TicketService
type MockTicketService struct {
	mock.Mock
}

func (m *MockTicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

func (m *MockTicketService) Refund(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

func (m *MockTicketService) Scan(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

// MockCapacityService is a mock implementation of CapacityService
type MockCapacityService struct {
	mock.Mock
}

func (m *MockCapacityService) DefinePass(ctx context.Context, pass domain.PassSnapshot) (*domain.EventCapacity, error) {
	args := m.Called(ctx, pass)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EventCapacity), args.Error(1)
}

func (m *MockCapacityService) ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EventCapacity), args.Error(1)
}

// MockSweeper is a mock implementation of Sweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) RunOnce(ctx context.Context) worker.SweepResult {
	args := m.Called(ctx)
	return args.Get(0).(worker.SweepResult)
}

func (m *MockSweeper) GetStats() *worker.OfferSweeperStats {
	args := m.Called()
	return args.Get(0).(*worker.OfferSweeperStats)
}

// asAdmin stands in for AdminAuth in handler tests
func asAdmin(email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyAdminEmail, email)
		c.Next()
	}
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorData `json:"error"`
}

func serve(t *testing.T, router *gin.Engine, method, path string, body io.Reader, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decodeData(t *testing.T, env envelope, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, out))
}
