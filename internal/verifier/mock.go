package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// Mock returns a fixed answer. It backs PAYMENT_GATEWAY_VERIFIER=mock in
// development and the service tests.
type Mock struct {
	Result domain.VerificationResult
	Err    error
	Delay  time.Duration
	// Received, when set, is the amount the payment actually carried; a
	// larger claimed amount is answered NotCaptured.
	Received decimal.Decimal

	mu      sync.Mutex
	calls   []string
	amounts []decimal.Decimal
}

// NewMock creates a verifier that always answers result
func NewMock(result domain.VerificationResult) *Mock {
	return &Mock{Result: result}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Verify(ctx context.Context, reference string, amount decimal.Decimal, _ domain.Payer) (domain.Verification, error) {
	m.mu.Lock()
	m.calls = append(m.calls, reference)
	m.amounts = append(m.amounts, amount)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return domain.Verification{Result: domain.Unknown}, ctx.Err()
		}
	}
	if m.Err != nil {
		return domain.Verification{Result: domain.Unknown}, m.Err
	}
	if !m.Received.IsZero() && amount.GreaterThan(m.Received) {
		return domain.Verification{
			Result: domain.NotCaptured,
			Reason: fmt.Sprintf("amount received %s below claimed %s", m.Received, amount),
		}, nil
	}
	return domain.Verification{Result: m.Result, VerifiedBy: "mock"}, nil
}

// Calls returns the references verified so far
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Amounts returns the claimed amounts passed to Verify so far
func (m *Mock) Amounts() []decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decimal.Decimal(nil), m.amounts...)
}
