package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/dto"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
)

const testWebhookSecret = "whsec_test"

func setupPaymentRouter(svc *MockReservationService, signatures *verifier.SignatureVerifier) *gin.Engine {
	h := NewPaymentHandler(svc, testWebhookSecret, signatures)
	router := gin.New()
	router.POST("/api/v1/payments/stripe/webhook", h.HandleStripeWebhook)
	router.POST("/api/v1/payments/callback", h.HandleSignedCallback)
	return router
}

func stripeEvent(eventType, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"type": %q,
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 10000,
			"amount_received": 10000,
			"currency": "usd",
			"status": "succeeded",
			"metadata": %s
		}}
	}`, eventType, metadata))
}

func signedWebhook(t *testing.T, router *gin.Engine, payload []byte) (int, envelope) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	w, env := serve(t, router, http.MethodPost, "/api/v1/payments/stripe/webhook", bytes.NewBuffer(payload),
		map[string]string{"Stripe-Signature": signed.Header})
	return w.Code, env
}

const reservationMetadata = `{"user_id":"user-1","event_id":"evt-1","pass_id":"vip","quantity":"2"}`

func TestPaymentHandler_StripeWebhook(t *testing.T) {
	t.Run("succeeded intent is reconciled", func(t *testing.T) {
		svc := new(MockReservationService)
		ticket := &domain.Ticket{ID: "tkt-1", UserID: "user-1", EventID: "evt-1", PassID: "vip", Quantity: 2, Status: domain.TicketValid}
		svc.On("RequestTicketOrOffer", mock.Anything, mock.MatchedBy(func(r *service.ReservationRequest) bool {
			return r.UserID == "user-1" && r.EventID == "evt-1" && r.PassID == "vip" && r.Quantity == 2 &&
				r.Payment.Reference == "pi_123" &&
				r.Payment.Source == domain.SourceGatewayCallback &&
				r.Payment.Amount.Equal(decimal.NewFromInt(100)) &&
				r.Payment.Verifier == nil
		})).Return(domain.Issued(ticket), nil)

		code, env := signedWebhook(t, setupPaymentRouter(svc, nil), stripeEvent("payment_intent.succeeded", reservationMetadata))

		assert.Equal(t, http.StatusOK, code)
		var got dto.WebhookResponse
		decodeData(t, env, &got)
		assert.True(t, got.Received)
		require.NotNil(t, got.Outcome)
		assert.Equal(t, "issued", got.Outcome.Outcome)
		svc.AssertExpectations(t)
	})

	t.Run("pending verification asks for redelivery", func(t *testing.T) {
		svc := new(MockReservationService)
		svc.On("RequestTicketOrOffer", mock.Anything, mock.Anything).
			Return(nil, domain.NewError(domain.ErrVerificationPending, domain.NewCapacityKey("evt-1", "vip"), "pi_123", ""))

		code, env := signedWebhook(t, setupPaymentRouter(svc, nil), stripeEvent("payment_intent.succeeded", reservationMetadata))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "VERIFICATION_PENDING", env.Error.Code)
	})

	t.Run("final refusal is acknowledged", func(t *testing.T) {
		svc := new(MockReservationService)
		svc.On("RequestTicketOrOffer", mock.Anything, mock.Anything).Return(nil, domain.Invalidf("event is unknown"))

		code, env := signedWebhook(t, setupPaymentRouter(svc, nil), stripeEvent("payment_intent.succeeded", reservationMetadata))

		assert.Equal(t, http.StatusOK, code)
		assert.True(t, env.Success)
	})

	t.Run("intent without reservation metadata", func(t *testing.T) {
		svc := new(MockReservationService)

		code, _ := signedWebhook(t, setupPaymentRouter(svc, nil), stripeEvent("payment_intent.succeeded", `{}`))

		assert.Equal(t, http.StatusOK, code)
		svc.AssertNotCalled(t, "RequestTicketOrOffer", mock.Anything, mock.Anything)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		svc := new(MockReservationService)

		code, env := signedWebhook(t, setupPaymentRouter(svc, nil), stripeEvent("charge.refunded", reservationMetadata))

		assert.Equal(t, http.StatusOK, code)
		var got dto.WebhookResponse
		decodeData(t, env, &got)
		assert.Equal(t, "event type not handled", got.Message)
		svc.AssertNotCalled(t, "RequestTicketOrOffer", mock.Anything, mock.Anything)
	})

	t.Run("bad signature", func(t *testing.T) {
		svc := new(MockReservationService)
		payload := stripeEvent("payment_intent.succeeded", reservationMetadata)

		w, _ := serve(t, setupPaymentRouter(svc, nil), http.MethodPost, "/api/v1/payments/stripe/webhook", bytes.NewBuffer(payload),
			map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "RequestTicketOrOffer", mock.Anything, mock.Anything)
	})
}

func TestPaymentHandler_SignedCallback(t *testing.T) {
	signatures := verifier.NewSignatureVerifier("callback-secret")

	t.Run("valid signature", func(t *testing.T) {
		svc := new(MockReservationService)
		ticket := &domain.Ticket{ID: "tkt-2", UserID: "user-1", EventID: "evt-1", Quantity: 1, Status: domain.TicketValid}
		svc.On("RequestTicketOrOffer", mock.Anything, mock.MatchedBy(func(r *service.ReservationRequest) bool {
			return r.Payment.Reference == "pay_9" && r.Payment.Verifier != nil &&
				r.Payment.Amount.Equal(decimal.RequireFromString("49.99"))
		})).Return(domain.Issued(ticket), nil)

		body := fmt.Sprintf(`{"order_id":"order_1","payment_id":"pay_9","signature":%q,"user_id":"user-1","event_id":"evt-1","quantity":1,"amount":4999}`,
			signatures.Sign("order_1", "pay_9"))
		w, env := serve(t, setupPaymentRouter(svc, signatures), http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(body), nil)

		assert.Equal(t, http.StatusCreated, w.Code)
		var got dto.ReservationResponse
		decodeData(t, env, &got)
		assert.Equal(t, "tkt-2", got.Ticket.ID)
	})

	t.Run("invalid signature", func(t *testing.T) {
		svc := new(MockReservationService)
		body := `{"order_id":"order_1","payment_id":"pay_9","signature":"00","user_id":"user-1","event_id":"evt-1","quantity":1}`

		w, env := serve(t, setupPaymentRouter(svc, signatures), http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(body), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PAYMENT_NOT_VERIFIED", env.Error.Code)
		svc.AssertNotCalled(t, "RequestTicketOrOffer", mock.Anything, mock.Anything)
	})

	t.Run("not configured", func(t *testing.T) {
		w, _ := serve(t, setupPaymentRouter(new(MockReservationService), nil), http.MethodPost, "/api/v1/payments/callback",
			bytes.NewBufferString(`{}`), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
