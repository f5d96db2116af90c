package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// TicketHandler handles ticket reads, refunds and entry scans
type TicketHandler struct {
	tickets TicketService
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(tickets TicketService) *TicketHandler {
	return &TicketHandler{
		tickets: tickets,
	}
}

// GetTicket handles GET /tickets/:id. Other users' tickets read as not found.
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}
	ticketID := c.Param("id")
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	ticket, err := h.tickets.Get(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	if ticket.UserID != userID {
		response.NotFound(c, "ticket not found")
		return
	}

	response.Success(c, dto.FromTicket(ticket))
}

// RefundTicket handles POST /tickets/:id/refund (admin)
func (h *TicketHandler) RefundTicket(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.refund")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	ticketID := c.Param("id")
	span.SetAttributes(
		attribute.String("ticket_id", ticketID),
		attribute.String("admin", middleware.GetAdminEmail(c)),
	)

	ticket, err := h.tickets.Refund(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromTicket(ticket))
}

// ScanTicket handles POST /tickets/:id/scan (admin)
func (h *TicketHandler) ScanTicket(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.scan")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	ticketID := c.Param("id")
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	ticket, err := h.tickets.Scan(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromTicket(ticket))
}
