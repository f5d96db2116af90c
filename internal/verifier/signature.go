package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// SignatureVerifier checks gateway callbacks signed as
// HMAC-SHA256(secret, order_id + "|" + payment_id), hex encoded.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a SignatureVerifier
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Sign returns the expected signature for a callback
func (v *SignatureVerifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Valid reports whether signature matches the callback fields
func (v *SignatureVerifier) Valid(orderID, paymentID, signature string) bool {
	expected := v.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// ForCallback binds one callback's fields so the Gate can verify it like any other payment
func (v *SignatureVerifier) ForCallback(orderID, signature string) Verifier {
	return &signedCallback{parent: v, orderID: orderID, signature: signature}
}

type signedCallback struct {
	parent    *SignatureVerifier
	orderID   string
	signature string
}

func (s *signedCallback) Name() string { return "signature" }

func (s *signedCallback) Verify(_ context.Context, reference string, _ decimal.Decimal, _ domain.Payer) (domain.Verification, error) {
	if !s.parent.Valid(s.orderID, reference, s.signature) {
		return domain.Verification{Result: domain.NotCaptured, Reason: "signature mismatch"}, nil
	}
	return domain.Verification{Result: domain.Captured, VerifiedBy: "signature"}, nil
}
