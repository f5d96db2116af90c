package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// PostgresTicketRepository stores tickets. payment_reference is unique so a
// claim can never authorize two tickets.
type PostgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(pool *pgxpool.Pool) *PostgresTicketRepository {
	return &PostgresTicketRepository{pool: pool}
}

const ticketColumns = `
	id, event_id, pass_id, user_id, quantity, amount::text, payment_reference,
	status, purchased_at, scanned_at, refunded_at, version, updated_at
`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t              domain.Ticket
		amount, status string
	)
	err := row.Scan(
		&t.ID, &t.EventID, &t.PassID, &t.UserID, &t.Quantity, &amount, &t.PaymentReference,
		&status, &t.PurchasedAt, &t.ScannedAt, &t.RefundedAt, &t.Version, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	t.Status = domain.TicketStatus(status)
	return &t, nil
}

func (r *PostgresTicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.create")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", t.ID), attribute.String("payment_reference", t.PaymentReference))

	query := `
		INSERT INTO tickets (
			id, event_id, pass_id, user_id, quantity, amount, payment_reference,
			status, purchased_at, scanned_at, refunded_at, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID, t.EventID, t.PassID, t.UserID, t.Quantity, t.Amount.String(), t.PaymentReference,
		string(t.Status), t.PurchasedAt, t.ScannedAt, t.RefundedAt, t.Version, t.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrDuplicate
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (r *PostgresTicketRepository) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.get")
	defer span.End()

	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("ticket "+id, domain.CapacityKey{}, "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (r *PostgresTicketRepository) GetByPaymentReference(ctx context.Context, reference string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.get_by_payment_reference")
	defer span.End()

	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE payment_reference = $1`, reference))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("ticket", domain.CapacityKey{}, reference)
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (r *PostgresTicketRepository) Update(ctx context.Context, t *domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.update")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", t.ID), attribute.String("status", string(t.Status)))

	query := `
		UPDATE tickets
		SET status = $2, scanned_at = $3, refunded_at = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $6
	`
	tag, err := r.pool.Exec(ctx, query, t.ID, string(t.Status), t.ScannedAt, t.RefundedAt, t.UpdatedAt, t.Version)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, t.ID); err != nil {
			return err
		}
		return staleVersion("ticket", t.ID)
	}
	t.Version++
	return nil
}
