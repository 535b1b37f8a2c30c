package roadnetwork

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"

	"go.uber.org/zap"
)

// WithFallback answers from primary and, when it fails, from a straight-line
// estimate downgraded to low confidence.
type WithFallback struct {
	primary  ports.RoadNetwork
	fallback *StraightLine
	logger   *zap.Logger
}

func NewWithFallback(primary ports.RoadNetwork, fallback *StraightLine, log *zap.Logger) *WithFallback {
	if fallback == nil {
		fallback = NewStraightLine(0)
	}
	return &WithFallback{primary: primary, fallback: fallback, logger: logger.OrNop(log)}
}

func (f *WithFallback) Route(ctx context.Context, points []domain.GeoPoint) (ports.RoadRoute, error) {
	if f.primary != nil {
		route, err := f.primary.Route(ctx, points)
		if err == nil {
			return route, nil
		}
		f.logger.Warn("road network degraded, using straight-line estimate",
			zap.Int("points", len(points)),
			zap.Error(err),
		)
	}
	route, err := f.fallback.Route(ctx, points)
	if err != nil {
		return ports.RoadRoute{}, err
	}
	route.Confidence = domain.ConfidenceLow
	return route, nil
}
