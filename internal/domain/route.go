package domain

import "time"

type StopType string

const (
	StopPickup  StopType = "pickup"
	StopDropoff StopType = "dropoff"
)

// Input to the optimizer: one pickup or dropoff still to be visited.
// PickupCompleted marks a dropoff whose pickup already happened.
type StopCandidate struct {
	Type            StopType
	Location        GeoPoint
	RequestID       string
	PickupCompleted bool
}

// Represents a single stop in a courier route.
type RouteStop struct {
	Type      StopType  `json:"type"`
	Location  GeoPoint  `json:"location"`
	RequestID string    `json:"request_id"`
	ArriveAt  time.Time `json:"arrive_at"`
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Represents the planned multi-stop route for a single courier.
// A Route is replaced wholesale on every re-optimization and never patched.
type Route struct {
	Origin              GeoPoint      `json:"origin"`
	DepartAt            time.Time     `json:"depart_at"`
	Stops               []RouteStop   `json:"stops"`
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	TotalDuration       time.Duration `json:"total_duration"`
	EstimatedCost       float64       `json:"estimated_cost"`
	EfficiencyScore     float64       `json:"efficiency_score"`
	Confidence          Confidence    `json:"confidence"`
	Path                []GeoPoint    `json:"path,omitempty"`
}

func (r Route) DistanceKm() float64 { return r.TotalDistanceMeters / 1000 }

// Candidates converts the remaining stops from index from onward back into
// optimizer input. Dropoffs whose pickup is no longer ahead are marked as picked up.
func (r Route) Candidates(from int) []StopCandidate {
	if from < 0 {
		from = 0
	}
	if from > len(r.Stops) {
		from = len(r.Stops)
	}

	ahead := make(map[string]bool)
	for _, s := range r.Stops[from:] {
		if s.Type == StopPickup {
			ahead[s.RequestID] = true
		}
	}

	out := make([]StopCandidate, 0, len(r.Stops)-from)
	for _, s := range r.Stops[from:] {
		out = append(out, StopCandidate{
			Type:            s.Type,
			Location:        s.Location,
			RequestID:       s.RequestID,
			PickupCompleted: s.Type == StopDropoff && !ahead[s.RequestID],
		})
	}
	return out
}

// PrecedenceHolds reports whether every dropoff follows its pickup, or its
// pickup is absent from the route (already completed).
func (r Route) PrecedenceHolds() bool {
	pickups := make(map[string]int)
	for i, s := range r.Stops {
		if s.Type == StopPickup {
			pickups[s.RequestID] = i
		}
	}
	for i, s := range r.Stops {
		if s.Type != StopDropoff {
			continue
		}
		if p, ok := pickups[s.RequestID]; ok && p > i {
			return false
		}
	}
	return true
}
