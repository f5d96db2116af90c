package verifier

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// Approval is an admin's decision on a manual payment notification
type Approval struct {
	admin   string
	approve bool
	reason  string
}

// NewApproval records that admin approved the payment
func NewApproval(admin string) (*Approval, error) {
	if admin == "" {
		return nil, domain.Invalidf("admin identity is required")
	}
	return &Approval{admin: admin, approve: true}, nil
}

// NewRejection records that admin found no matching payment
func NewRejection(admin, reason string) (*Approval, error) {
	if admin == "" {
		return nil, domain.Invalidf("admin identity is required")
	}
	if reason == "" {
		reason = "rejected by admin"
	}
	return &Approval{admin: admin, reason: reason}, nil
}

func (a *Approval) Name() string { return "admin_approval" }

func (a *Approval) Verify(context.Context, string, decimal.Decimal, domain.Payer) (domain.Verification, error) {
	if !a.approve {
		return domain.Verification{Result: domain.NotCaptured, Reason: a.reason, VerifiedBy: a.admin}, nil
	}
	return domain.Verification{Result: domain.Captured, VerifiedBy: a.admin}, nil
}

// Operator trusts a box-office operator who took the payment in person
type Operator struct {
	identity string
}

// NewOperator requires a non-empty operator identity
func NewOperator(identity string) (*Operator, error) {
	if identity == "" {
		return nil, domain.Invalidf("operator identity is required")
	}
	return &Operator{identity: identity}, nil
}

func (o *Operator) Name() string { return "operator" }

func (o *Operator) Verify(context.Context, string, decimal.Decimal, domain.Payer) (domain.Verification, error) {
	return domain.Verification{Result: domain.Captured, VerifiedBy: "operator:" + o.identity}, nil
}
