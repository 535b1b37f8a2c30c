package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Initialize the Postgres schema backing the road-leg cache.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createLegCacheQuery := `
	CREATE TABLE IF NOT EXISTS road_leg_cache (
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		distance_meters DOUBLE PRECISION NOT NULL,
		duration_ms BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (origin, destination)
	);
	`

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_road_leg_cache_updated_at
	ON road_leg_cache(updated_at);
	`

	statements := []string{
		createLegCacheQuery,
		createIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

// PruneLegCache deletes legs not refreshed within maxAgeHours.
func PruneLegCache(ctx context.Context, db *sql.DB, maxAgeHours int) (int64, error) {
	if db == nil {
		return 0, errors.New("prune leg cache: DB is nil")
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM road_leg_cache WHERE updated_at < now() - make_interval(hours => $1);`,
		maxAgeHours,
	)
	if err != nil {
		return 0, fmt.Errorf("prune leg cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune leg cache: rows affected: %w", err)
	}
	return n, nil
}
