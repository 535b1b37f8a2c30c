package services

import (
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"fmt"
	"math"
	"time"
)

const twoOptEpsilon = 1e-9

type OptimizerConfig struct {
	TravelMinutesPerKm float64
	PickupDwell        time.Duration
	DropoffDwell       time.Duration
	FuelCostPerKm      float64
	TimeCostPerMinute  float64
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		TravelMinutesPerKm: 2,
		PickupDwell:        5 * time.Minute,
		DropoffDwell:       8 * time.Minute,
		FuelCostPerKm:      0.8,
		TimeCostPerMinute:  0.5,
	}
}

// RouteOptimizer orders one courier's pending pickups and dropoffs.
//
// Construction is nearest-neighbor (pickups first, then dropoffs), improved by
// first-improvement 2-opt and then repaired so every dropoff follows its pickup.
// All distances are great-circle; road-network refinement is the planner's job.
// The optimizer holds no mutable state and is safe for concurrent use.
type RouteOptimizer struct {
	cfg OptimizerConfig
	now func() time.Time
}

func NewRouteOptimizer(cfg OptimizerConfig) *RouteOptimizer {
	return &RouteOptimizer{cfg: cfg, now: time.Now}
}

// Optimize returns the best stop order it finds from origin.
// Empty input yields an empty route with zero metrics.
func (o *RouteOptimizer) Optimize(origin domain.GeoPoint, stops []domain.StopCandidate) (domain.Route, error) {
	if err := validateStops(origin, stops); err != nil {
		return domain.Route{}, fmt.Errorf("optimize: %w", err)
	}

	if len(stops) <= 1 {
		return o.Evaluate(origin, stops), nil
	}

	nn := NearestNeighborTour(origin, stops)
	improved := EnforcePrecedence(TwoOpt(origin, nn))

	// Precedence repair can undo 2-opt gains; never return worse than the
	// construction tour, which is already precedence-safe.
	if TourDistance(origin, improved) > TourDistance(origin, nn) {
		improved = nn
	}

	return o.Evaluate(origin, improved), nil
}

// Evaluate computes metrics for stops in the given order without reordering.
func (o *RouteOptimizer) Evaluate(origin domain.GeoPoint, ordered []domain.StopCandidate) domain.Route {
	legs := make([]ports.RoadLeg, len(ordered))
	prev := origin
	for i, s := range ordered {
		meters := domain.Haversine(prev, s.Location)
		legs[i] = ports.RoadLeg{DistanceMeters: meters, Duration: o.travelTime(meters)}
		prev = s.Location
	}

	route := o.build(origin, ordered, legs)
	route.Confidence = domain.ConfidenceMedium
	return route
}

// EvaluateLegs is Evaluate with externally measured legs, one per stop.
// A leg count mismatch falls back to great-circle legs.
func (o *RouteOptimizer) EvaluateLegs(origin domain.GeoPoint, ordered []domain.StopCandidate, legs []ports.RoadLeg) domain.Route {
	if len(legs) != len(ordered) {
		return o.Evaluate(origin, ordered)
	}
	return o.build(origin, ordered, legs)
}

func (o *RouteOptimizer) build(origin domain.GeoPoint, ordered []domain.StopCandidate, legs []ports.RoadLeg) domain.Route {
	departAt := o.now()
	route := domain.Route{
		Origin:   origin,
		DepartAt: departAt,
		Stops:    make([]domain.RouteStop, 0, len(ordered)),
	}

	if len(ordered) == 0 {
		route.Confidence = domain.ConfidenceMedium
		return route
	}

	var (
		meters  float64
		elapsed time.Duration
	)
	for i, s := range ordered {
		meters += legs[i].DistanceMeters
		elapsed += legs[i].Duration

		route.Stops = append(route.Stops, domain.RouteStop{
			Type:      s.Type,
			Location:  s.Location,
			RequestID: s.RequestID,
			ArriveAt:  departAt.Add(elapsed),
		})

		elapsed += o.dwell(s.Type)
	}

	route.TotalDistanceMeters = meters
	route.TotalDuration = elapsed
	route.EstimatedCost = o.cost(meters, elapsed)
	route.EfficiencyScore = o.efficiency(origin, ordered)
	return route
}

// efficiency compares the great-circle cost of the batched tour with serving
// each request alone from origin. Result is clamped to [0,100].
func (o *RouteOptimizer) efficiency(origin domain.GeoPoint, ordered []domain.StopCandidate) float64 {
	batchMeters := TourDistance(origin, ordered)
	var batchDwell time.Duration
	for _, s := range ordered {
		batchDwell += o.dwell(s.Type)
	}
	batched := o.cost(batchMeters, o.travelTime(batchMeters)+batchDwell)

	baseline := 0.0
	for _, trip := range singleTrips(ordered) {
		meters := 0.0
		elapsed := time.Duration(0)
		prev := origin
		for _, s := range trip {
			meters += domain.Haversine(prev, s.Location)
			elapsed += o.dwell(s.Type)
			prev = s.Location
		}
		baseline += o.cost(meters, o.travelTime(meters)+elapsed)
	}

	if baseline <= 0 {
		return 0
	}
	return clamp((baseline-batched)/baseline*100, 0, 100)
}

func (o *RouteOptimizer) travelTime(meters float64) time.Duration {
	minutes := meters / 1000 * o.cfg.TravelMinutesPerKm
	return time.Duration(minutes * float64(time.Minute))
}

func (o *RouteOptimizer) dwell(t domain.StopType) time.Duration {
	if t == domain.StopPickup {
		return o.cfg.PickupDwell
	}
	return o.cfg.DropoffDwell
}

func (o *RouteOptimizer) cost(meters float64, d time.Duration) float64 {
	return meters/1000*o.cfg.FuelCostPerKm + d.Minutes()*o.cfg.TimeCostPerMinute
}

// singleTrips groups stops by request, pickup first, in first-seen order.
func singleTrips(stops []domain.StopCandidate) [][]domain.StopCandidate {
	index := make(map[string]int)
	var trips [][]domain.StopCandidate

	for _, s := range stops {
		i, ok := index[s.RequestID]
		if !ok {
			i = len(trips)
			index[s.RequestID] = i
			trips = append(trips, nil)
		}
		if s.Type == domain.StopPickup {
			trips[i] = append([]domain.StopCandidate{s}, trips[i]...)
		} else {
			trips[i] = append(trips[i], s)
		}
	}
	return trips
}

func validateStops(origin domain.GeoPoint, stops []domain.StopCandidate) error {
	if err := origin.Validate(); err != nil {
		return fmt.Errorf("origin: %w", err)
	}

	pickups := make(map[string]bool, len(stops))
	for i, s := range stops {
		if err := s.Location.Validate(); err != nil {
			return fmt.Errorf("stop %d (%s %s): %w", i, s.Type, s.RequestID, err)
		}
		switch s.Type {
		case domain.StopPickup:
			pickups[s.RequestID] = true
		case domain.StopDropoff:
		default:
			return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("stop %d has unknown type %q", i, s.Type)}
		}
	}

	for _, s := range stops {
		if s.Type != domain.StopDropoff {
			continue
		}
		if !s.PickupCompleted && !pickups[s.RequestID] {
			return fmt.Errorf("request %s: %w", s.RequestID, domain.ErrPrecedenceViolation)
		}
		if s.PickupCompleted && pickups[s.RequestID] {
			return fmt.Errorf("request %s: dropoff marked picked up but pickup still pending: %w", s.RequestID, domain.ErrPrecedenceViolation)
		}
	}
	return nil
}

// NearestNeighborTour visits all pickups, then all dropoffs, each phase
// greedily stepping to the closest remaining stop. Ties keep input order.
func NearestNeighborTour(origin domain.GeoPoint, stops []domain.StopCandidate) []domain.StopCandidate {
	var pickups, dropoffs []domain.StopCandidate
	for _, s := range stops {
		if s.Type == domain.StopPickup {
			pickups = append(pickups, s)
		} else {
			dropoffs = append(dropoffs, s)
		}
	}

	tour := make([]domain.StopCandidate, 0, len(stops))
	current := origin
	for _, phase := range [][]domain.StopCandidate{pickups, dropoffs} {
		remaining := append([]domain.StopCandidate(nil), phase...)
		for len(remaining) > 0 {
			best := 0
			bestDist := math.Inf(1)
			for i, s := range remaining {
				if d := domain.Haversine(current, s.Location); d < bestDist {
					best, bestDist = i, d
				}
			}
			tour = append(tour, remaining[best])
			current = remaining[best].Location
			remaining = append(remaining[:best], remaining[best+1:]...)
		}
	}
	return tour
}

// TwoOpt improves an open tour anchored at origin by reversing segments.
// The first strictly improving reversal found is applied and the scan restarts,
// so the result is deterministic for a given input order.
func TwoOpt(origin domain.GeoPoint, tour []domain.StopCandidate) []domain.StopCandidate {
	out := append([]domain.StopCandidate(nil), tour...)
	n := len(out)
	if n < 3 {
		return out
	}

	at := func(i int) domain.GeoPoint {
		if i < 0 {
			return origin
		}
		return out[i].Location
	}

	for improved := true; improved; {
		improved = false
	scan:
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				before := domain.Haversine(at(i-1), at(i))
				after := domain.Haversine(at(i-1), at(k))
				if k+1 < n {
					before += domain.Haversine(at(k), at(k+1))
					after += domain.Haversine(at(i), at(k+1))
				}
				if after-before < -twoOptEpsilon {
					reverse(out[i : k+1])
					improved = true
					break scan
				}
			}
		}
	}
	return out
}

// EnforcePrecedence rebuilds tour greedily: at each step it takes the first
// remaining stop that is a pickup, or a dropoff whose pickup is already placed
// (or completed, or absent from the tour).
func EnforcePrecedence(tour []domain.StopCandidate) []domain.StopCandidate {
	pending := make(map[string]bool)
	for _, s := range tour {
		if s.Type == domain.StopPickup {
			pending[s.RequestID] = true
		}
	}

	remaining := append([]domain.StopCandidate(nil), tour...)
	out := make([]domain.StopCandidate, 0, len(tour))

	for len(remaining) > 0 {
		next := 0
		for i, s := range remaining {
			if s.Type == domain.StopPickup || s.PickupCompleted || !pending[s.RequestID] {
				next = i
				break
			}
		}

		s := remaining[next]
		if s.Type == domain.StopPickup {
			delete(pending, s.RequestID)
		}
		out = append(out, s)
		remaining = append(remaining[:next], remaining[next+1:]...)
	}
	return out
}

// TourDistance is the great-circle length of origin -> tour[0] -> ... in meters.
func TourDistance(origin domain.GeoPoint, tour []domain.StopCandidate) float64 {
	total := 0.0
	prev := origin
	for _, s := range tour {
		total += domain.Haversine(prev, s.Location)
		prev = s.Location
	}
	return total
}

func reverse(s []domain.StopCandidate) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
