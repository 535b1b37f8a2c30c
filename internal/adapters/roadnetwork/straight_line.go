package roadnetwork

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"time"
)

// StraightLine estimates routes as great-circle legs at a fixed speed.
// Results are tagged medium confidence: a modelled estimate, not a failure.
type StraightLine struct {
	SpeedKmh float64
}

func NewStraightLine(speedKmh float64) *StraightLine {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	return &StraightLine{SpeedKmh: speedKmh}
}

func (s *StraightLine) Route(ctx context.Context, points []domain.GeoPoint) (ports.RoadRoute, error) {
	legs := make([]ports.RoadLeg, 0, max(len(points)-1, 0))
	for i := 0; i+1 < len(points); i++ {
		meters := domain.Haversine(points[i], points[i+1])
		legs = append(legs, ports.RoadLeg{
			DistanceMeters: meters,
			Duration:       time.Duration(meters / 1000 / s.SpeedKmh * float64(time.Hour)),
		})
	}
	return assemble(legs, points, domain.ConfidenceMedium), nil
}
