package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// ClaimHandler handles manual payment notifications and their administration
type ClaimHandler struct {
	claims ClaimService
}

// NewClaimHandler creates a new claim handler
func NewClaimHandler(claims ClaimService) *ClaimHandler {
	return &ClaimHandler{
		claims: claims,
	}
}

// SubmitManualClaim handles POST /claims
func (h *ClaimHandler) SubmitManualClaim(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.submit")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.ManualClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
	)

	claim, err := h.claims.SubmitManualClaim(ctx, domain.ClaimInput{
		ExternalReference: req.TransactionID,
		Source:            domain.SourceManualNotification,
		UserID:            userID,
		EventID:           req.EventID,
		PassID:            req.PassID,
		Units:             req.Quantity,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Payer:             domain.Payer{Name: req.PayerName, Contact: req.PayerContact},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	// recorded, waiting for an admin
	response.Accepted(c, dto.FromClaim(claim))
}

// ListClaims handles GET /admin/claims
func (h *ClaimHandler) ListClaims(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var q dto.ListClaimsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		span.RecordError(err)
		bindError(c, err)
		return
	}

	claims, err := h.claims.ListClaims(ctx, domain.ClaimFilter{
		Status:  domain.ClaimStatus(q.Status),
		EventID: q.EventID,
		UserID:  q.UserID,
		Limit:   q.Limit,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromClaims(claims))
}

// ClaimStats handles GET /admin/claims/stats
func (h *ClaimHandler) ClaimStats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.stats")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	stats, err := h.claims.ClaimStats(ctx, c.Query("event_id"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, stats)
}

// GetClaim handles GET /admin/claims/:reference
func (h *ClaimHandler) GetClaim(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claim, err := h.claims.GetClaim(ctx, c.Param("reference"))
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromClaim(claim))
}

// ApproveClaim handles POST /admin/claims/:reference/approve
func (h *ClaimHandler) ApproveClaim(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.approve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	reference := c.Param("reference")
	admin := middleware.GetAdminEmail(c)
	span.SetAttributes(
		attribute.String("claim_reference", reference),
		attribute.String("admin", admin),
	)

	res, err := h.claims.ApproveClaim(ctx, reference, admin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, reconcileResponse(res))
}

// RejectClaim handles POST /admin/claims/:reference/reject
func (h *ClaimHandler) RejectClaim(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.reject")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.RejectClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		bindError(c, err)
		return
	}

	reference := c.Param("reference")
	admin := middleware.GetAdminEmail(c)
	span.SetAttributes(
		attribute.String("claim_reference", reference),
		attribute.String("admin", admin),
	)

	claim, err := h.claims.RejectClaim(ctx, reference, admin, req.Reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromClaim(claim))
}

// OperatorEntry handles POST /admin/claims/operator
func (h *ClaimHandler) OperatorEntry(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.claims.operator")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.OperatorEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		bindError(c, err)
		return
	}

	operator := middleware.GetAdminEmail(c)
	span.SetAttributes(
		attribute.String("operator", operator),
		attribute.String("user_id", req.UserID),
		attribute.String("event_id", req.EventID),
	)

	res, err := h.claims.OperatorEntry(ctx, domain.ClaimInput{
		ExternalReference: req.Reference,
		Source:            domain.SourceOperatorEntry,
		UserID:            req.UserID,
		EventID:           req.EventID,
		PassID:            req.PassID,
		Units:             req.Quantity,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Payer:             domain.Payer{Name: req.PayerName, Contact: req.PayerContact},
	}, operator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Created(c, reconcileResponse(res))
}

func reconcileResponse(res *service.ReconcileResult) *dto.ReconcileResponse {
	return &dto.ReconcileResponse{
		Claim:    dto.FromClaim(res.Claim),
		Ticket:   dto.FromTicket(res.Ticket),
		Replayed: res.Replayed,
	}
}
