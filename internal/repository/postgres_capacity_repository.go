package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

// PostgresCapacityRepository keeps counters in event_capacities. The
// conditional UPDATE makes TryReserve atomic even without the capacity lock.
type PostgresCapacityRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCapacityRepository creates a new PostgresCapacityRepository
func NewPostgresCapacityRepository(pool *pgxpool.Pool) *PostgresCapacityRepository {
	return &PostgresCapacityRepository{pool: pool}
}

const capacityColumns = `event_id, pass_id, total_quantity, sold_quantity, version, created_at, updated_at`

func (r *PostgresCapacityRepository) CreateIfAbsent(ctx context.Context, c *domain.EventCapacity) (*domain.EventCapacity, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.create_if_absent")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", c.Key.String()))

	query := `
		INSERT INTO event_capacities (event_id, pass_id, total_quantity, sold_quantity, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (event_id, pass_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, c.Key.EventID, c.Key.PassID, c.TotalQuantity, c.CreatedAt); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create capacity: %w", err)
	}
	return r.Get(ctx, c.Key)
}

func (r *PostgresCapacityRepository) Get(ctx context.Context, key domain.CapacityKey) (*domain.EventCapacity, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.get")
	defer span.End()

	query := `SELECT ` + capacityColumns + ` FROM event_capacities WHERE event_id = $1 AND pass_id = $2`
	c := &domain.EventCapacity{}
	err := r.pool.QueryRow(ctx, query, key.EventID, key.PassID).Scan(
		&c.Key.EventID, &c.Key.PassID, &c.TotalQuantity, &c.SoldQuantity, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("capacity", key, "")
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get capacity: %w", err)
	}
	return c, nil
}

func (r *PostgresCapacityRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.list_by_event")
	defer span.End()

	query := `SELECT ` + capacityColumns + ` FROM event_capacities WHERE event_id = $1 ORDER BY pass_id`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list capacities: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.EventCapacity, 0)
	for rows.Next() {
		c := &domain.EventCapacity{}
		if err := rows.Scan(&c.Key.EventID, &c.Key.PassID, &c.TotalQuantity, &c.SoldQuantity, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capacity: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresCapacityRepository) TryReserve(ctx context.Context, key domain.CapacityKey, units int) (domain.ReserveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.try_reserve")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", key.String()), attribute.Int("units", units))

	if units <= 0 {
		return domain.Exhausted, nil
	}

	query := `
		UPDATE event_capacities
		SET sold_quantity = sold_quantity + $3, version = version + 1, updated_at = NOW()
		WHERE event_id = $1 AND pass_id = $2 AND sold_quantity + $3 <= total_quantity
	`
	tag, err := r.pool.Exec(ctx, query, key.EventID, key.PassID, units)
	if err != nil {
		telemetry.RecordError(span, err)
		return domain.Exhausted, fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return domain.Reserved, nil
	}
	if _, err := r.Get(ctx, key); err != nil {
		return domain.Exhausted, err
	}
	return domain.Exhausted, nil
}

func (r *PostgresCapacityRepository) Release(ctx context.Context, key domain.CapacityKey, units int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.release")
	defer span.End()
	span.SetAttributes(attribute.String("capacity_key", key.String()), attribute.Int("units", units))

	if units <= 0 {
		return 0, nil
	}

	query := `
		WITH old AS (
			SELECT sold_quantity FROM event_capacities
			WHERE event_id = $1 AND pass_id = $2
			FOR UPDATE
		)
		UPDATE event_capacities AS c
		SET sold_quantity = GREATEST(old.sold_quantity - $3, 0), version = c.version + 1, updated_at = NOW()
		FROM old
		WHERE c.event_id = $1 AND c.pass_id = $2
		RETURNING old.sold_quantity - c.sold_quantity
	`
	var freed int
	if err := r.pool.QueryRow(ctx, query, key.EventID, key.PassID, units).Scan(&freed); err != nil {
		if isNoRows(err) {
			return 0, notFound("capacity", key, "")
		}
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to release capacity: %w", err)
	}
	return freed, nil
}
