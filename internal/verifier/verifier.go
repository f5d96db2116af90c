package verifier

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// Verifier answers whether a reported payment was really captured. It is
// called before any capacity lock is taken and may block on a network call.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, reference string, claimed decimal.Decimal, payer domain.Payer) (domain.Verification, error)
}

// Registry picks the verifier that vouches for each claim source
type Registry struct {
	gateway Verifier
	manual  Verifier
}

// NewRegistry creates a Registry. gateway verifies gateway callbacks; manual
// notifications always wait for an admin decision.
func NewRegistry(gateway Verifier) *Registry {
	return &Registry{gateway: gateway, manual: Pending{}}
}

// For returns the verifier for source. Operator entries carry their own
// identity and are built with NewOperator instead.
func (r *Registry) For(source domain.ClaimSource) (Verifier, error) {
	switch source {
	case domain.SourceGatewayCallback:
		return r.gateway, nil
	case domain.SourceManualNotification:
		return r.manual, nil
	case domain.SourceOperatorEntry:
		return nil, domain.Invalidf("operator entries need an operator identity")
	}
	return nil, domain.Invalidf("unknown claim source %q", source)
}

// Pending never decides; the claim waits for an admin
type Pending struct{}

func (Pending) Name() string { return "pending" }

func (Pending) Verify(context.Context, string, decimal.Decimal, domain.Payer) (domain.Verification, error) {
	return domain.Verification{Result: domain.Unknown, Reason: "awaiting admin review"}, nil
}
