package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

const maxWebhookBodyBytes = 65536

// Stripe metadata keys set when the PaymentIntent is created at checkout
const (
	metadataUserID   = "user_id"
	metadataEventID  = "event_id"
	metadataPassID   = "pass_id"
	metadataQuantity = "quantity"
)

// PaymentHandler turns gateway callbacks into payment claims
type PaymentHandler struct {
	reservations  ReservationService
	webhookSecret string
	signatures    *verifier.SignatureVerifier
}

// NewPaymentHandler creates a new PaymentHandler. signatures may be nil when
// no signature style gateway is configured.
func NewPaymentHandler(reservations ReservationService, webhookSecret string, signatures *verifier.SignatureVerifier) *PaymentHandler {
	return &PaymentHandler{
		reservations:  reservations,
		webhookSecret: webhookSecret,
		signatures:    signatures,
	}
}

// HandleStripeWebhook handles POST /payments/stripe/webhook
func (h *PaymentHandler) HandleStripeWebhook(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.stripe_webhook")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)
	log := logger.Get()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.ErrorContext(ctx, "Failed to read webhook body", zap.Error(err))
		response.BadRequest(c, "failed to read request body")
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		log.Warn("Missing Stripe-Signature header")
		response.BadRequest(c, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn("Failed to verify webhook signature", zap.Error(err))
		span.SetStatus(codes.Error, "invalid signature")
		response.BadRequest(c, "invalid signature")
		return
	}

	span.SetAttributes(attribute.String("stripe.event_type", string(event.Type)))

	switch event.Type {
	case "payment_intent.succeeded":
		h.handlePaymentIntentSucceeded(c, event)
	default:
		log.Debug("Unhandled stripe event type", zap.String("type", string(event.Type)))
		response.Success(c, dto.WebhookResponse{Received: true, Message: "event type not handled"})
	}
}

// handlePaymentIntentSucceeded reconciles the intent as a gateway callback.
// The Stripe verifier re-reads the intent, so a forged event body still
// cannot mint a ticket.
func (h *PaymentHandler) handlePaymentIntentSucceeded(c *gin.Context, event stripe.Event) {
	ctx := c.Request.Context()
	log := logger.Get()

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		log.ErrorContext(ctx, "Failed to parse payment_intent.succeeded", zap.Error(err))
		response.BadRequest(c, "failed to parse event data")
		return
	}

	userID := intent.Metadata[metadataUserID]
	eventID := intent.Metadata[metadataEventID]
	quantity, err := strconv.Atoi(intent.Metadata[metadataQuantity])
	if userID == "" || eventID == "" || err != nil {
		// not one of ours; acknowledge so Stripe stops retrying
		log.Info("Payment intent without reservation metadata", zap.String("payment_intent", intent.ID))
		response.Success(c, dto.WebhookResponse{Received: true, Message: "no reservation metadata"})
		return
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	outcome, err := h.reservations.RequestTicketOrOffer(ctx, &service.ReservationRequest{
		UserID:   userID,
		EventID:  eventID,
		PassID:   intent.Metadata[metadataPassID],
		Quantity: quantity,
		Payment: &service.PaymentDetails{
			Reference: intent.ID,
			Source:    domain.SourceGatewayCallback,
			Amount:    decimal.New(amount, -2),
			Currency:  string(intent.Currency),
		},
	})
	if err != nil {
		h.webhookError(c, intent.ID, err)
		return
	}

	log.InfoContext(ctx, "Stripe payment reconciled",
		zap.String("payment_intent", intent.ID),
		zap.String("outcome", string(outcome.Kind)),
	)
	response.Success(c, dto.WebhookResponse{Received: true, Outcome: dto.FromOutcome(outcome)})
}

// webhookError answers non-2xx only when a redelivery could succeed
func (h *PaymentHandler) webhookError(c *gin.Context, reference string, err error) {
	log := logger.Get()
	if retryableCallback(err) {
		log.WarnContext(c.Request.Context(), "Stripe payment not settled, asking for redelivery",
			zap.String("payment_intent", reference),
			zap.Error(err),
		)
		response.Error(c, http.StatusServiceUnavailable, string(domain.KindOf(err)), err.Error(), detailsOf(err))
		return
	}
	log.WarnContext(c.Request.Context(), "Stripe payment refused",
		zap.String("payment_intent", reference),
		zap.Error(err),
	)
	response.Success(c, dto.WebhookResponse{Received: true, Message: err.Error()})
}

func retryableCallback(err error) bool {
	return errors.Is(err, domain.ErrVerificationPending) ||
		errors.Is(err, domain.ErrConcurrencyConflict) ||
		!domain.IsDomainError(err)
}

// HandleSignedCallback handles POST /payments/callback
func (h *PaymentHandler) HandleSignedCallback(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.signed_callback")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if h.signatures == nil {
		response.NotFound(c, "signed callbacks are not configured")
		return
	}

	var req dto.SignedCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		bindError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("payment_id", req.PaymentID),
		attribute.String("event_id", req.EventID),
	)

	if !h.signatures.Valid(req.OrderID, req.PaymentID, req.Signature) {
		span.SetStatus(codes.Error, "invalid signature")
		response.Error(c, http.StatusBadRequest, string(domain.KindPaymentNotVerified), "invalid signature", nil)
		return
	}

	outcome, err := h.reservations.RequestTicketOrOffer(ctx, &service.ReservationRequest{
		UserID:   req.UserID,
		EventID:  req.EventID,
		PassID:   req.PassID,
		Quantity: req.Quantity,
		Payment: &service.PaymentDetails{
			Reference: req.PaymentID,
			Source:    domain.SourceGatewayCallback,
			Amount:    decimal.New(req.Amount, -2),
			Currency:  req.Currency,
			Verifier:  h.signatures.ForCallback(req.OrderID, req.Signature),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	writeOutcome(c, outcome)
}
