package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/platform/obs"
	"courier-dispatch-service/internal/ports"
	"fmt"

	"go.uber.org/zap"
)

// RoutePlanner combines the optimizer with road-network measurements.
//
// The optimizer decides the order on great-circle distances; the road network
// then measures the chosen order. When the road network is unavailable the
// great-circle route is returned tagged low confidence.
type RoutePlanner struct {
	optimizer *RouteOptimizer
	road      ports.RoadNetwork
	logger    *zap.Logger
}

func NewRoutePlanner(optimizer *RouteOptimizer, road ports.RoadNetwork, log *zap.Logger) *RoutePlanner {
	return &RoutePlanner{optimizer: optimizer, road: road, logger: logger.OrNop(log)}
}

func (p *RoutePlanner) Optimizer() *RouteOptimizer { return p.optimizer }

// Plan orders stops from origin and measures the result on the road network.
func (p *RoutePlanner) Plan(ctx context.Context, origin domain.GeoPoint, stops []domain.StopCandidate) (_ domain.Route, err error) {
	defer obs.Time(ctx, p.logger, "planner.Plan")(&err)

	route, err := p.optimizer.Optimize(origin, stops)
	if err != nil {
		p.logger.Warn("route rejected", zap.Error(err), zap.Int("stops", len(stops)))
		return domain.Route{}, fmt.Errorf("plan route: %w", err)
	}

	return p.measure(ctx, origin, route), nil
}

// Measure evaluates stops in their current order without reordering them.
func (p *RoutePlanner) Measure(ctx context.Context, origin domain.GeoPoint, ordered []domain.StopCandidate) (_ domain.Route, err error) {
	defer obs.Time(ctx, p.logger, "planner.Measure")(&err)

	if err := validateStops(origin, ordered); err != nil {
		return domain.Route{}, fmt.Errorf("measure route: %w", err)
	}

	return p.measure(ctx, origin, p.optimizer.Evaluate(origin, ordered)), nil
}

func (p *RoutePlanner) measure(ctx context.Context, origin domain.GeoPoint, route domain.Route) domain.Route {
	if len(route.Stops) == 0 || p.road == nil {
		return route
	}

	points := make([]domain.GeoPoint, 0, len(route.Stops)+1)
	points = append(points, origin)
	ordered := make([]domain.StopCandidate, 0, len(route.Stops))
	for _, s := range route.Stops {
		points = append(points, s.Location)
		ordered = append(ordered, domain.StopCandidate{Type: s.Type, Location: s.Location, RequestID: s.RequestID})
	}

	rr, err := p.road.Route(ctx, points)
	if err != nil || len(rr.Legs) != len(ordered) {
		if err == nil {
			err = fmt.Errorf("road network returned %d legs for %d stops", len(rr.Legs), len(ordered))
		}
		p.logger.Warn("road network unavailable, using great-circle estimate", zap.Error(err))
		route.Confidence = domain.ConfidenceLow
		return route
	}

	measured := p.optimizer.EvaluateLegs(origin, ordered, rr.Legs)
	measured.Confidence = rr.Confidence
	if measured.Confidence == "" {
		measured.Confidence = domain.ConfidenceHigh
	}
	measured.Path = rr.Path
	return measured
}
