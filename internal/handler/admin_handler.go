package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// AdminHandler handles inventory definition and on-demand sweeps
type AdminHandler struct {
	capacities CapacityService
	sweeper    Sweeper
}

// NewAdminHandler creates a new admin handler. sweeper may be nil when
// expiry runs in a separate process.
func NewAdminHandler(capacities CapacityService, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{
		capacities: capacities,
		sweeper:    sweeper,
	}
}

// DefineCapacity handles PUT /admin/capacities
func (h *AdminHandler) DefineCapacity(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.define_capacity")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.DefineCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		bindError(c, err)
		return
	}

	key := domain.NewCapacityKey(req.EventID, req.PassID)
	span.SetAttributes(
		attribute.String("capacity_key", key.String()),
		attribute.Int("total_quantity", req.TotalQuantity),
	)

	capacity, err := h.capacities.DefinePass(ctx, domain.PassSnapshot{
		EventID:       key.EventID,
		PassID:        key.PassID,
		TotalQuantity: req.TotalQuantity,
		Price:         req.Price,
		Cancelled:     req.Cancelled,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	logger.Get().InfoContext(ctx, "Capacity defined",
		zap.String("capacity_key", key.String()),
		zap.Int("total_quantity", capacity.TotalQuantity),
		zap.Bool("cancelled", req.Cancelled),
		zap.String("admin", middleware.GetAdminEmail(c)),
	)
	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromCapacity(capacity))
}

// ListCapacities handles GET /capacities/:event_id
func (h *AdminHandler) ListCapacities(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.capacity.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID := c.Param("event_id")
	span.SetAttributes(attribute.String("event_id", eventID))

	capacities, err := h.capacities.ListByEvent(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	out := make([]*dto.CapacityResponse, 0, len(capacities))
	for _, capacity := range capacities {
		out = append(out, dto.FromCapacity(capacity))
	}
	response.Success(c, out)
}

// RunSweep handles POST /admin/sweeps
func (h *AdminHandler) RunSweep(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.run_sweep")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if h.sweeper == nil {
		response.NotFound(c, "offer sweeper is not running in this process")
		return
	}

	result := h.sweeper.RunOnce(ctx)
	span.SetAttributes(
		attribute.Int("expired", result.Expired),
		attribute.Int("promoted", result.Promoted),
		attribute.Int("failed", result.Failed),
	)
	response.Success(c, result)
}

// SweepStats handles GET /admin/sweeps/stats
func (h *AdminHandler) SweepStats(c *gin.Context) {
	if h.sweeper == nil {
		response.NotFound(c, "offer sweeper is not running in this process")
		return
	}
	response.Success(c, h.sweeper.GetStats())
}
