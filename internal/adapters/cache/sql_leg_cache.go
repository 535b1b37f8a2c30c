package cache

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/platform/obs"
	"courier-dispatch-service/internal/ports"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SQLLegCache is a Postgres-backed cache of road legs between two points.
// Points are keyed by GeoPoint.Key so lookups are exact to six decimals.
type SQLLegCache struct {
	DB     *sql.DB
	logger *zap.Logger
}

func NewSQLLegCache(db *sql.DB, log *zap.Logger) *SQLLegCache {
	return &SQLLegCache{DB: db, logger: logger.OrNop(log)}
}

// Fetch cached legs for one origin and multiple destinations, keyed by destination Key.
func (s *SQLLegCache) GetMany(
	ctx context.Context,
	origin domain.GeoPoint,
	destinations []domain.GeoPoint,
) (_ map[string]ports.RoadLeg, err error) {
	defer obs.Time(ctx, s.logger, "leg.cache.GetMany")(&err)

	if s.DB == nil {
		return nil, errors.New("leg cache: db is nil")
	}

	if len(destinations) == 0 {
		return map[string]ports.RoadLeg{}, nil
	}

	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(destinations))
	for _, d := range destinations {
		k := d.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}

	q := `
	SELECT destination, distance_meters, duration_ms
	FROM road_leg_cache
	WHERE origin = $1
		AND destination = ANY($2::text[]);
	`

	rows, err := s.DB.QueryContext(ctx, q, origin.Key(), uniq)
	if err != nil {
		return nil, fmt.Errorf("get leg cache: query road_leg_cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ports.RoadLeg, len(uniq))
	for rows.Next() {
		var dest string
		var meters float64
		var ms int64
		if err := rows.Scan(&dest, &meters, &ms); err != nil {
			return nil, fmt.Errorf("get leg cache: scan rows: %w", err)
		}
		out[dest] = ports.RoadLeg{
			DistanceMeters: meters,
			Duration:       time.Duration(ms) * time.Millisecond,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get leg cache: row iteration: %w", err)
	}

	return out, nil
}

// Store legs from a single origin, replacing stale entries.
func (s *SQLLegCache) PutMany(
	ctx context.Context,
	origin domain.GeoPoint,
	legs map[string]ports.RoadLeg,
) error {
	if s.DB == nil {
		return errors.New("leg cache: db is nil")
	}

	if len(legs) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert leg cache: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO road_leg_cache (origin, destination, distance_meters, duration_ms, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (origin, destination) DO UPDATE
	SET distance_meters = EXCLUDED.distance_meters,
		duration_ms = EXCLUDED.duration_ms,
		updated_at = EXCLUDED.updated_at;
	`)
	if err != nil {
		return fmt.Errorf("insert leg cache: db prepare: %w", err)
	}
	defer stmt.Close()

	for dest, leg := range legs {
		if dest == "" {
			return fmt.Errorf("insert leg cache: empty destination key")
		}

		if _, err := stmt.ExecContext(ctx, origin.Key(), dest, leg.DistanceMeters, leg.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert leg cache dest=%q: %w", dest, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert leg cache commit: %w", err)
	}

	return nil
}
