package services

import (
	"context"
	"courier-dispatch-service/internal/adapters/roadnetwork"
	"courier-dispatch-service/internal/domain"
	"errors"
	"testing"
	"time"
)

func TestRoutePlannerPlanMeasuresOnRoadNetwork(t *testing.T) {
	origin := domain.GeoPoint{Lat: 0, Lon: 0}
	p := domain.GeoPoint{Lat: 0, Lon: 0.01}
	d := domain.GeoPoint{Lat: 0, Lon: 0.02}

	road := roadnetwork.NewMock([]roadnetwork.MockPair{
		{From: origin, To: p, Meters: 1500, Duration: 3 * time.Minute},
		{From: p, To: d, Meters: 2000, Duration: 4 * time.Minute},
	})
	road.Strict = true

	planner := NewRoutePlanner(NewRouteOptimizer(DefaultOptimizerConfig()), road, nil)

	route, err := planner.Plan(context.Background(), origin, []domain.StopCandidate{
		dropoff("r1", d.Lat, d.Lon),
		pickup("r1", p.Lat, p.Lon),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(route.Stops) != 2 || route.Stops[0].Type != domain.StopPickup {
		t.Fatalf("expected pickup then dropoff, got %+v", route.Stops)
	}
	if route.TotalDistanceMeters != 3500 {
		t.Fatalf("distance = %.0f, want 3500", route.TotalDistanceMeters)
	}
	// 3m + 5m dwell + 4m + 8m dwell
	if route.TotalDuration != 20*time.Minute {
		t.Fatalf("duration = %v, want 20m", route.TotalDuration)
	}
	if route.Confidence != domain.ConfidenceHigh {
		t.Fatalf("confidence = %q, want high", route.Confidence)
	}
	if road.Calls() != 1 {
		t.Fatalf("road network called %d times, want 1", road.Calls())
	}
}

func TestRoutePlannerFallsBackOnRoadFailure(t *testing.T) {
	road := roadnetwork.NewMock(nil)
	road.Err = errors.New("upstream down")

	planner := NewRoutePlanner(NewRouteOptimizer(DefaultOptimizerConfig()), road, nil)
	origin := domain.GeoPoint{Lat: 0, Lon: 0}
	stops := []domain.StopCandidate{pickup("r1", 0, 0.01), dropoff("r1", 0, 0.02)}

	route, err := planner.Plan(context.Background(), origin, stops)
	if err != nil {
		t.Fatalf("road failure must not surface as an error: %v", err)
	}
	if route.Confidence != domain.ConfidenceLow {
		t.Fatalf("confidence = %q, want low", route.Confidence)
	}
	want := TourDistance(origin, stops)
	if diff := route.TotalDistanceMeters - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("distance = %.3f, want great-circle %.3f", route.TotalDistanceMeters, want)
	}
}

func TestRoutePlannerMeasureKeepsOrder(t *testing.T) {
	planner := NewRoutePlanner(NewRouteOptimizer(DefaultOptimizerConfig()), nil, nil)
	origin := domain.GeoPoint{}
	ordered := []domain.StopCandidate{
		pickup("a", 0, 0.3),
		pickup("b", 0, 0.1),
		dropoff("a", 0, 0.2),
		dropoff("b", 0, 0.4),
	}

	route, err := planner.Measure(context.Background(), origin, ordered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range route.Stops {
		if s.RequestID != ordered[i].RequestID || s.Type != ordered[i].Type {
			t.Fatalf("stop %d reordered: got %s %s", i, s.Type, s.RequestID)
		}
	}
}

func TestRoutePlannerRejectsPrecedenceViolation(t *testing.T) {
	planner := NewRoutePlanner(NewRouteOptimizer(DefaultOptimizerConfig()), roadnetwork.NewMock(nil), nil)

	_, err := planner.Plan(context.Background(), domain.GeoPoint{}, []domain.StopCandidate{dropoff("x", 0, 1)})
	if !errors.Is(err, domain.ErrPrecedenceViolation) {
		t.Fatalf("expected ErrPrecedenceViolation, got %v", err)
	}
}
