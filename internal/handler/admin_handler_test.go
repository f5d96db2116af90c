package handler

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/internal/worker"
)

func setupAdminRouter(capacities *MockCapacityService, sweeper Sweeper) *gin.Engine {
	h := NewAdminHandler(capacities, sweeper)
	router := gin.New()

	router.GET("/api/v1/capacities/:event_id", h.ListCapacities)
	admin := router.Group("/api/v1/admin", asAdmin(testAdmin))
	{
		admin.PUT("/capacities", h.DefineCapacity)
		admin.POST("/sweeps", h.RunSweep)
		admin.GET("/sweeps/stats", h.SweepStats)
	}
	return router
}

func TestAdminHandler_DefineCapacity(t *testing.T) {
	key := domain.NewCapacityKey("evt-1", "vip")

	t.Run("defined", func(t *testing.T) {
		capacities := new(MockCapacityService)
		capacities.On("DefinePass", mock.Anything, mock.MatchedBy(func(p domain.PassSnapshot) bool {
			return p.CapacityKey() == key && p.TotalQuantity == 50 && p.Price.Equal(decimal.NewFromInt(75))
		})).
			Return(&domain.EventCapacity{Key: key, TotalQuantity: 50, SoldQuantity: 0}, nil)

		w, env := serve(t, setupAdminRouter(capacities, nil), http.MethodPut, "/api/v1/admin/capacities",
			bytes.NewBufferString(`{"event_id":"evt-1","pass_id":"vip","total_quantity":50,"price":"75"}`), nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var got dto.CapacityResponse
		decodeData(t, env, &got)
		assert.Equal(t, 50, got.Available)
	})

	t.Run("total is fixed", func(t *testing.T) {
		capacities := new(MockCapacityService)
		capacities.On("DefinePass", mock.Anything, mock.Anything).
			Return(nil, domain.NewError(domain.ErrInvalid, key, "", "total quantity is fixed once defined"))

		w, env := serve(t, setupAdminRouter(capacities, nil), http.MethodPut, "/api/v1/admin/capacities",
			bytes.NewBufferString(`{"event_id":"evt-1","pass_id":"vip","total_quantity":60}`), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID", env.Error.Code)
	})

	t.Run("negative total", func(t *testing.T) {
		capacities := new(MockCapacityService)
		w, _ := serve(t, setupAdminRouter(capacities, nil), http.MethodPut, "/api/v1/admin/capacities",
			bytes.NewBufferString(`{"event_id":"evt-1","total_quantity":-1}`), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		capacities.AssertNotCalled(t, "DefinePass", mock.Anything, mock.Anything)
	})
}

func TestAdminHandler_ListCapacities(t *testing.T) {
	capacities := new(MockCapacityService)
	capacities.On("ListByEvent", mock.Anything, "evt-1").Return([]*domain.EventCapacity{
		{Key: domain.NewCapacityKey("evt-1", "ga"), TotalQuantity: 100, SoldQuantity: 100},
		{Key: domain.NewCapacityKey("evt-1", "vip"), TotalQuantity: 10, SoldQuantity: 4},
	}, nil)

	w, env := serve(t, setupAdminRouter(capacities, nil), http.MethodGet, "/api/v1/capacities/evt-1", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []dto.CapacityResponse
	decodeData(t, env, &got)
	if assert.Len(t, got, 2) {
		assert.Equal(t, 0, got[0].Available)
		assert.Equal(t, 6, got[1].Available)
	}
}

func TestAdminHandler_Sweeps(t *testing.T) {
	t.Run("runs one sweep", func(t *testing.T) {
		sweeper := new(MockSweeper)
		sweeper.On("RunOnce", mock.Anything).Return(worker.SweepResult{Found: 2, Expired: 2, Promoted: 1})

		w, env := serve(t, setupAdminRouter(new(MockCapacityService), sweeper), http.MethodPost, "/api/v1/admin/sweeps", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var got worker.SweepResult
		decodeData(t, env, &got)
		assert.Equal(t, 2, got.Expired)
		assert.Equal(t, 1, got.Promoted)
	})

	t.Run("stats", func(t *testing.T) {
		sweeper := new(MockSweeper)
		sweeper.On("GetStats").Return(&worker.OfferSweeperStats{IsRunning: true, TotalExpired: 7})

		w, env := serve(t, setupAdminRouter(new(MockCapacityService), sweeper), http.MethodGet, "/api/v1/admin/sweeps/stats", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var got worker.OfferSweeperStats
		decodeData(t, env, &got)
		assert.Equal(t, int64(7), got.TotalExpired)
	})

	t.Run("no sweeper in process", func(t *testing.T) {
		w, _ := serve(t, setupAdminRouter(new(MockCapacityService), nil), http.MethodPost, "/api/v1/admin/sweeps", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
