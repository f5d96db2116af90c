package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// IntentFetcher loads a PaymentIntent by id
type IntentFetcher func(id string) (*stripe.PaymentIntent, error)

// StripeVerifier re-reads the PaymentIntent from Stripe rather than trusting the callback body
type StripeVerifier struct {
	fetch IntentFetcher
}

// NewStripeVerifier configures the Stripe SDK with secretKey
func NewStripeVerifier(secretKey string) (*StripeVerifier, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripeVerifier{
		fetch: func(id string) (*stripe.PaymentIntent, error) {
			return paymentintent.Get(id, nil)
		},
	}, nil
}

// NewStripeVerifierWithFetcher is used by tests and alternative clients
func NewStripeVerifierWithFetcher(fetch IntentFetcher) *StripeVerifier {
	return &StripeVerifier{fetch: fetch}
}

func (v *StripeVerifier) Name() string { return "stripe" }

func (v *StripeVerifier) Verify(ctx context.Context, reference string, claimed decimal.Decimal, _ domain.Payer) (domain.Verification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Verification{Result: domain.Unknown}, err
	}

	pi, err := v.fetch(reference)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return domain.Verification{Result: domain.NotCaptured, Reason: "payment intent not found"}, nil
		}
		return domain.Verification{Result: domain.Unknown}, fmt.Errorf("failed to get payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.Verification{Result: domain.NotCaptured, Reason: "payment intent " + string(pi.Status)}, nil
	default:
		return domain.Verification{Result: domain.Unknown, Reason: "payment intent " + string(pi.Status)}, nil
	}

	// Stripe amounts are in the smallest currency unit
	want := claimed.Shift(2).Ceil().IntPart()
	if pi.AmountReceived < want {
		return domain.Verification{
			Result: domain.NotCaptured,
			Reason: fmt.Sprintf("amount received %d below claimed %d", pi.AmountReceived, want),
		}, nil
	}
	return domain.Verification{Result: domain.Captured, VerifiedBy: "stripe"}, nil
}
