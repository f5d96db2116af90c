package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// PostgresCatalogRepository reads passes from catalog_passes
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgresCatalogRepository
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

func (r *PostgresCatalogRepository) GetPass(ctx context.Context, eventID, passID string) (*domain.PassSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.get_pass")
	defer span.End()

	query := `
		SELECT event_id, pass_id, total_quantity, price::text, cancelled
		FROM catalog_passes
		WHERE event_id = $1 AND pass_id = $2
	`
	var (
		p     domain.PassSnapshot
		price string
	)
	err := r.pool.QueryRow(ctx, query, eventID, passID).Scan(&p.EventID, &p.PassID, &p.TotalQuantity, &price, &p.Cancelled)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("pass", domain.NewCapacityKey(eventID, passID), "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}
	if p.Price, err = parseAmount(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresCatalogRepository) Upsert(ctx context.Context, p *domain.PassSnapshot) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.upsert")
	defer span.End()

	query := `
		INSERT INTO catalog_passes (event_id, pass_id, total_quantity, price, cancelled, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW())
		ON CONFLICT (event_id, pass_id) DO UPDATE
		SET total_quantity = EXCLUDED.total_quantity,
		    price = EXCLUDED.price,
		    cancelled = EXCLUDED.cancelled,
		    updated_at = NOW()
	`
	key := p.CapacityKey()
	if _, err := r.pool.Exec(ctx, query, key.EventID, key.PassID, p.TotalQuantity, p.Price.String(), p.Cancelled); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to upsert pass: %w", err)
	}
	return nil
}
