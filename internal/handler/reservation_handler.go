package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// ReservationHandler handles reservation and waiting list requests
type ReservationHandler struct {
	reservations ReservationService
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservations ReservationService) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
	}
}

// Reserve handles POST /reservations
func (h *ReservationHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.ReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
		attribute.String("pass_id", req.PassID),
		attribute.Int("quantity", req.Quantity),
	)

	sreq := &service.ReservationRequest{
		UserID:   userID,
		EventID:  req.EventID,
		PassID:   req.PassID,
		Quantity: req.Quantity,
	}
	if p := req.Payment; p != nil {
		source := domain.ClaimSource(p.Source)
		if source == "" {
			source = domain.SourceGatewayCallback
		}
		sreq.Payment = &service.PaymentDetails{
			Reference: p.Reference,
			Source:    source,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Payer:     domain.Payer{Name: p.PayerName, Contact: p.PayerContact},
		}
	}

	outcome, err := h.reservations.RequestTicketOrOffer(ctx, sreq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	writeOutcome(c, outcome)
}

// writeOutcome maps a reservation outcome to a response. Queued is accepted,
// not an error; a rejection uses the status of its reason.
func writeOutcome(c *gin.Context, outcome *domain.ReservationOutcome) {
	body := dto.FromOutcome(outcome)
	switch outcome.Kind {
	case domain.OutcomeIssued, domain.OutcomeOffered:
		response.Created(c, body)
	case domain.OutcomeQueued:
		response.Accepted(c, body)
	default:
		c.JSON(statusFor(outcome.Reason), response.Response{
			Success: false,
			Data:    body,
			Error: &response.ErrorData{
				Code:    string(outcome.Reason),
				Message: outcome.Detail,
			},
		})
	}
}

// GetQueueStatus handles GET /queue/:event_id/status
func (h *ReservationHandler) GetQueueStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID := c.Param("event_id")
	passID := c.Query("pass_id")
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("pass_id", passID),
	)

	status, err := h.reservations.GetQueueStatus(ctx, eventID, passID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromQueueStatus(status))
}

// GetPosition handles GET /queue/:event_id/position
func (h *ReservationHandler) GetPosition(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.position")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}
	eventID := c.Param("event_id")
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	entry, pos, err := h.reservations.GetPosition(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.QueuePositionResponse{Entry: dto.FromEntry(entry), Position: pos})
}

// LeaveQueue handles DELETE /queue/:event_id
func (h *ReservationHandler) LeaveQueue(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.leave")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}
	eventID := c.Param("event_id")
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	entry, err := h.reservations.LeaveQueue(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromEntry(entry))
}
