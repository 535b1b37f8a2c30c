package ports

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"time"
)

// Distance and travel duration between two consecutive points.
type RoadLeg struct {
	DistanceMeters float64
	Duration       time.Duration
}

// Path through two or more points as returned by a road network.
type RoadRoute struct {
	DistanceMeters float64
	Duration       time.Duration
	Legs           []RoadLeg
	Path           []domain.GeoPoint
	Confidence     domain.Confidence
}

// Contract for routing through an ordered list of points.
type RoadNetwork interface {
	// Return the road path visiting points in order.
	Route(ctx context.Context, points []domain.GeoPoint) (RoadRoute, error)
}

// Persistent store for single legs, keyed by origin and destination GeoPoint.Key.
type LegCache interface {
	GetMany(ctx context.Context, origin domain.GeoPoint, destinations []domain.GeoPoint) (map[string]RoadLeg, error)
	PutMany(ctx context.Context, origin domain.GeoPoint, legs map[string]RoadLeg) error
}
