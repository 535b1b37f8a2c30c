package roadnetwork

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"fmt"
	"sync/atomic"
	"time"
)

type MockPair struct {
	From, To domain.GeoPoint
	Meters   float64
	Duration time.Duration
}

// Mock serves fixed legs. Unknown legs fall back to great-circle distance at
// 30 km/h unless Strict is set, in which case they are an error.
type Mock struct {
	legs   map[string]ports.RoadLeg
	Strict bool
	Err    error
	calls  atomic.Int64
}

func NewMock(pairs []MockPair) *Mock {
	m := make(map[string]ports.RoadLeg, len(pairs))
	for _, p := range pairs {
		m[p.From.Key()+"|"+p.To.Key()] = ports.RoadLeg{DistanceMeters: p.Meters, Duration: p.Duration}
	}
	return &Mock{legs: m}
}

func (m *Mock) Calls() int64 { return m.calls.Load() }

func (m *Mock) Route(ctx context.Context, points []domain.GeoPoint) (ports.RoadRoute, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return ports.RoadRoute{}, m.Err
	}

	legs := make([]ports.RoadLeg, 0, max(len(points)-1, 0))
	for i := 0; i+1 < len(points); i++ {
		leg, ok := m.legs[points[i].Key()+"|"+points[i+1].Key()]
		if !ok {
			if m.Strict {
				return ports.RoadRoute{}, fmt.Errorf("missing pair %s -> %s", points[i], points[i+1])
			}
			meters := domain.Haversine(points[i], points[i+1])
			leg = ports.RoadLeg{DistanceMeters: meters, Duration: time.Duration(meters / 1000 / 30 * float64(time.Hour))}
		}
		legs = append(legs, leg)
	}
	return assemble(legs, points, domain.ConfidenceHigh), nil
}
