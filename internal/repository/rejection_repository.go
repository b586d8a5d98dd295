// Package repository persists the rate limit rejection audit.
package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/emadnahed/ratelimiter/internal/database"
	"github.com/emadnahed/ratelimiter/internal/models"
)

// RejectionRepository stores per-caller rejection totals.
type RejectionRepository interface {
	// BatchIncrementRejections adds counts to each caller's total.
	BatchIncrementRejections(ctx context.Context, counts map[string]int64) error

	// TopRejected returns the callers with the most rejections, highest first.
	TopRejected(ctx context.Context, limit int) ([]models.RejectionStat, error)

	// RejectionsFor returns the stored totals of the given callers. Callers
	// without a row are omitted.
	RejectionsFor(ctx context.Context, callerIDs []string) ([]models.RejectionStat, error)

	// HealthCheck verifies the repository is reachable.
	HealthCheck(ctx context.Context) error
}

const upsertRejectionSQL = `
	INSERT INTO rate_limit_rejections (caller_id, rejected_count, first_rejected_at, last_rejected_at)
	VALUES ($1, $2, NOW(), NOW())
	ON CONFLICT (caller_id) DO UPDATE
	SET rejected_count = rate_limit_rejections.rejected_count + EXCLUDED.rejected_count,
	    last_rejected_at = EXCLUDED.last_rejected_at
`

const topRejectedSQL = `
	SELECT caller_id, rejected_count, first_rejected_at, last_rejected_at
	FROM rate_limit_rejections
	ORDER BY rejected_count DESC, last_rejected_at DESC
	LIMIT $1
`

const rejectionsForSQL = `
	SELECT caller_id, rejected_count, first_rejected_at, last_rejected_at
	FROM rate_limit_rejections
	WHERE caller_id = ANY($1)
`

// PostgresRejectionRepository implements RejectionRepository using PostgreSQL.
type PostgresRejectionRepository struct {
	pool *database.Pool
}

// NewPostgresRejectionRepository creates a PostgreSQL-backed rejection repository.
func NewPostgresRejectionRepository(pool *database.Pool) *PostgresRejectionRepository {
	return &PostgresRejectionRepository{pool: pool}
}

// BatchIncrementRejections upserts every entry of counts in one transaction.
// Invalid entries are rejected before anything is written.
func (r *PostgresRejectionRepository) BatchIncrementRejections(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	// A fixed order keeps concurrent flushes from deadlocking on row locks.
	ids := slices.Sorted(maps.Keys(counts))
	for _, id := range ids {
		if err := models.ValidateIncrement(id, counts[id]); err != nil {
			return fmt.Errorf("invalid rejection count for %q: %w", id, err)
		}
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, id := range ids {
			batch.Queue(upsertRejectionSQL, id, counts[id])
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to increment rejection counts: %w", err)
	}
	return nil
}

// TopRejected returns up to limit callers ordered by rejection count.
func (r *PostgresRejectionRepository) TopRejected(ctx context.Context, limit int) ([]models.RejectionStat, error) {
	if limit <= 0 {
		return []models.RejectionStat{}, nil
	}

	rows, err := r.pool.Query(ctx, topRejectedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.RejectionStat])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rejections: %w", err)
	}
	return stats, nil
}

// RejectionsFor looks up the stored totals of callerIDs in one query.
func (r *PostgresRejectionRepository) RejectionsFor(ctx context.Context, callerIDs []string) ([]models.RejectionStat, error) {
	if len(callerIDs) == 0 {
		return []models.RejectionStat{}, nil
	}

	rows, err := r.pool.Query(ctx, rejectionsForSQL, callerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query caller rejections: %w", err)
	}

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.RejectionStat])
	if err != nil {
		return nil, fmt.Errorf("failed to scan caller rejections: %w", err)
	}
	return stats, nil
}

// HealthCheck verifies the database connection.
func (r *PostgresRejectionRepository) HealthCheck(ctx context.Context) error {
	return r.pool.HealthCheck(ctx)
}
