package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// PostgresWaitlistRepository stores entries in waiting_list_entries. The
// partial unique index uq_waiting_list_live enforces one live entry per
// (user, event) across processes.
type PostgresWaitlistRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWaitlistRepository creates a new PostgresWaitlistRepository
func NewPostgresWaitlistRepository(pool *pgxpool.Pool) *PostgresWaitlistRepository {
	return &PostgresWaitlistRepository{pool: pool}
}

const waitlistColumns = `
	id, user_id, event_id, pass_id, quantity, status, sequence,
	created_at, offered_at, offer_expires_at, completed_at, claim_reference, version, updated_at
`

func scanEntry(row pgx.Row) (*domain.WaitingListEntry, error) {
	var (
		e         domain.WaitingListEntry
		status    string
		reference *string
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.EventID, &e.PassID, &e.Quantity, &status, &e.Sequence,
		&e.CreatedAt, &e.OfferedAt, &e.OfferExpiresAt, &e.CompletedAt, &reference, &e.Version, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.WaitlistStatus(status)
	e.ClaimReference = derefString(reference)
	return &e, nil
}

func (r *PostgresWaitlistRepository) Create(ctx context.Context, e *domain.WaitingListEntry) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("entry_id", e.ID),
		attribute.String("user_id", e.UserID),
		attribute.String("capacity_key", e.CapacityKey().String()),
	)

	query := `
		INSERT INTO waiting_list_entries (
			id, user_id, event_id, pass_id, quantity, status,
			created_at, offered_at, offer_expires_at, completed_at, claim_reference, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING sequence
	`
	err := r.pool.QueryRow(ctx, query,
		e.ID, e.UserID, e.EventID, e.PassID, e.Quantity, string(e.Status),
		e.CreatedAt, e.OfferedAt, e.OfferExpiresAt, e.CompletedAt, nullString(e.ClaimReference), e.Version, e.UpdatedAt,
	).Scan(&e.Sequence)
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			if pgErr.ConstraintName == "uq_waiting_list_live" {
				return domain.NewError(domain.ErrAlreadyQueued, e.CapacityKey(), "", "user "+e.UserID)
			}
			return ErrDuplicate
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to create waiting list entry: %w", err)
	}
	return nil
}

func (r *PostgresWaitlistRepository) Get(ctx context.Context, id string) (*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.get")
	defer span.End()

	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waiting_list_entries WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("waiting list entry "+id, domain.CapacityKey{}, "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get waiting list entry: %w", err)
	}
	return e, nil
}

func (r *PostgresWaitlistRepository) GetLive(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.get_live")
	defer span.End()

	query := `SELECT ` + waitlistColumns + `
		FROM waiting_list_entries
		WHERE user_id = $1 AND event_id = $2 AND status IN ('waiting', 'offered')`
	e, err := scanEntry(r.pool.QueryRow(ctx, query, userID, eventID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("live waiting list entry", domain.NewCapacityKey(eventID, ""), "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get live waiting list entry: %w", err)
	}
	return e, nil
}

func (r *PostgresWaitlistRepository) Update(ctx context.Context, e *domain.WaitingListEntry) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.update")
	defer span.End()
	span.SetAttributes(attribute.String("entry_id", e.ID), attribute.String("status", string(e.Status)))

	query := `
		UPDATE waiting_list_entries
		SET status = $2, offered_at = $3, offer_expires_at = $4, completed_at = $5,
		    claim_reference = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8
	`
	tag, err := r.pool.Exec(ctx, query,
		e.ID, string(e.Status), e.OfferedAt, e.OfferExpiresAt, e.CompletedAt,
		nullString(e.ClaimReference), e.UpdatedAt, e.Version,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update waiting list entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, e.ID); err != nil {
			return err
		}
		return staleVersion("waiting list entry", e.ID)
	}
	e.Version++
	return nil
}

func (r *PostgresWaitlistRepository) NextWaiting(ctx context.Context, key domain.CapacityKey) (*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.next_waiting")
	defer span.End()

	query := `SELECT ` + waitlistColumns + `
		FROM waiting_list_entries
		WHERE event_id = $1 AND pass_id = $2 AND status = 'waiting'
		ORDER BY created_at, sequence
		LIMIT 1`
	e, err := scanEntry(r.pool.QueryRow(ctx, query, key.EventID, key.PassID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("waiting entry", key, "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get next waiting entry: %w", err)
	}
	return e, nil
}

func (r *PostgresWaitlistRepository) ListLive(ctx context.Context, key domain.CapacityKey) ([]*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.list_live")
	defer span.End()

	query := `SELECT ` + waitlistColumns + `
		FROM waiting_list_entries
		WHERE event_id = $1 AND pass_id = $2 AND status IN ('waiting', 'offered')
		ORDER BY created_at, sequence`
	return r.list(ctx, query, key.EventID, key.PassID)
}

func (r *PostgresWaitlistRepository) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*domain.WaitingListEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.waitlist.list_expired_offers")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	query := `SELECT ` + waitlistColumns + `
		FROM waiting_list_entries
		WHERE status = 'offered' AND offer_expires_at <= $1
		ORDER BY offer_expires_at
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

func (r *PostgresWaitlistRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.WaitingListEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting list entries: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.WaitingListEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waiting list entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
