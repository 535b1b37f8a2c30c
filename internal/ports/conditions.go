package ports

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"time"
)

// Contract for reading current weather and traffic around a point.
type ConditionsProvider interface {
	Snapshot(ctx context.Context, at domain.GeoPoint) (domain.ConditionSnapshot, error)
}

// Source of raw weather observations.
type WeatherSource interface {
	Current(ctx context.Context, at domain.GeoPoint) (domain.Weather, error)
}

// Source of a traffic descriptor for a point at a given time.
type TrafficSource interface {
	Traffic(ctx context.Context, at domain.GeoPoint, when time.Time) (domain.Traffic, error)
}

// Short-lived snapshot cache. ok is false on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (snap domain.ConditionSnapshot, ok bool, err error)
	Set(ctx context.Context, key string, snap domain.ConditionSnapshot, ttl time.Duration) error
}
