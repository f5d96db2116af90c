package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// PostgresClaimRepository stores payment claims in payment_claims
type PostgresClaimRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresClaimRepository creates a new PostgresClaimRepository
func NewPostgresClaimRepository(pool *pgxpool.Pool) *PostgresClaimRepository {
	return &PostgresClaimRepository{pool: pool}
}

const claimColumns = `
	id, external_reference, source, user_id, event_id, pass_id, units, amount::text, currency,
	payer_name, payer_contact, status, ticket_created, ticket_id, rejection_reason,
	verified_by, verified_at, version, created_at, updated_at
`

func scanClaim(row pgx.Row) (*domain.PaymentClaim, error) {
	var (
		c                            domain.PaymentClaim
		source, status, amount       string
		ticketID, reason, verifiedBy *string
	)
	err := row.Scan(
		&c.ID, &c.ExternalReference, &source, &c.UserID, &c.EventID, &c.PassID, &c.Units, &amount, &c.Currency,
		&c.Payer.Name, &c.Payer.Contact, &status, &c.TicketCreated, &ticketID, &reason,
		&verifiedBy, &c.VerifiedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	c.Source = domain.ClaimSource(source)
	c.Status = domain.ClaimStatus(status)
	c.TicketID = derefString(ticketID)
	c.RejectionReason = derefString(reason)
	c.VerifiedBy = derefString(verifiedBy)
	return &c, nil
}

func (r *PostgresClaimRepository) Create(ctx context.Context, c *domain.PaymentClaim) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.claim.create")
	defer span.End()
	span.SetAttributes(attribute.String("claim_reference", c.ExternalReference), attribute.String("source", string(c.Source)))

	query := `
		INSERT INTO payment_claims (
			id, external_reference, source, user_id, event_id, pass_id, units, amount, currency,
			payer_name, payer_contact, status, ticket_created, ticket_id, rejection_reason,
			verified_by, verified_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := r.pool.Exec(ctx, query,
		c.ID, c.ExternalReference, string(c.Source), c.UserID, c.EventID, c.PassID, c.Units, c.Amount.String(), c.Currency,
		c.Payer.Name, c.Payer.Contact, string(c.Status), c.TicketCreated, nullString(c.TicketID), nullString(c.RejectionReason),
		nullString(c.VerifiedBy), c.VerifiedAt, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrDuplicate
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to create payment claim: %w", err)
	}
	return nil
}

func (r *PostgresClaimRepository) GetByReference(ctx context.Context, reference string) (*domain.PaymentClaim, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.claim.get_by_reference")
	defer span.End()

	c, err := scanClaim(r.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM payment_claims WHERE external_reference = $1`, reference))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("payment claim", domain.CapacityKey{}, reference)
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get payment claim: %w", err)
	}
	return c, nil
}

func (r *PostgresClaimRepository) Update(ctx context.Context, c *domain.PaymentClaim) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.claim.update")
	defer span.End()
	span.SetAttributes(attribute.String("claim_reference", c.ExternalReference), attribute.String("status", string(c.Status)))

	query := `
		UPDATE payment_claims
		SET status = $2, ticket_created = $3, ticket_id = $4, rejection_reason = $5,
		    verified_by = $6, verified_at = $7, updated_at = $8, version = version + 1
		WHERE external_reference = $1 AND version = $9
	`
	tag, err := r.pool.Exec(ctx, query,
		c.ExternalReference, string(c.Status), c.TicketCreated, nullString(c.TicketID), nullString(c.RejectionReason),
		nullString(c.VerifiedBy), c.VerifiedAt, c.UpdatedAt, c.Version,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update payment claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByReference(ctx, c.ExternalReference); err != nil {
			return err
		}
		return staleVersion("payment claim", c.ExternalReference)
	}
	c.Version++
	return nil
}

func (r *PostgresClaimRepository) List(ctx context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.claim.list")
	defer span.End()

	where, args := claimFilterClause(filter)
	query := `SELECT ` + claimColumns + ` FROM payment_claims` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list payment claims: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.PaymentClaim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresClaimRepository) Stats(ctx context.Context, eventID string) (*domain.ClaimStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.claim.stats")
	defer span.End()

	where, args := claimFilterClause(domain.ClaimFilter{EventID: eventID})
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'verified'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE ticket_created),
			COUNT(*) FILTER (WHERE status = 'verified' AND NOT ticket_created),
			COALESCE(SUM(amount) FILTER (WHERE status = 'verified'), 0)::text
		FROM payment_claims` + where

	var (
		s      domain.ClaimStats
		amount string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&s.Total, &s.Pending, &s.Verified, &s.Rejected, &s.TicketsCreated, &s.AwaitingTicket, &amount,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to aggregate payment claims: %w", err)
	}
	if s.VerifiedAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &s, nil
}

func claimFilterClause(f domain.ClaimFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(f.Status))
	add("event_id", f.EventID)
	add("user_id", f.UserID)

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
