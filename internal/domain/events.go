package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAssigned          EventType = "assigned"
	EventGeofenceArrived   EventType = "geofence_arrived"
	EventRerouted          EventType = "rerouted"
	EventETAUpdated        EventType = "eta_updated"
	EventTrackingStarted   EventType = "tracking_started"
	EventDeliveryCompleted EventType = "delivery_completed"
	EventTrackingStopped   EventType = "tracking_stopped"
)

// Typed notification emitted by the dispatch core. Delivery is up to the notifier.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	RequestID  string    `json:"request_id"`
	CourierID  string    `json:"courier_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

func NewEvent(t EventType, requestID, courierID string, at time.Time, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		RequestID:  requestID,
		CourierID:  courierID,
		OccurredAt: at,
		Data:       data,
	}
}

type GeofenceArrival struct {
	Kind     GeofenceKind `json:"kind"`
	Position GeoPoint     `json:"position"`
	Distance float64      `json:"distance_meters"`
}

type Reroute struct {
	Count          int     `json:"count"`
	ActiveScore    float64 `json:"active_score"`
	CandidateScore float64 `json:"candidate_score"`
	DistanceMeters float64 `json:"distance_meters"`
}

type AssignmentDetail struct {
	Score     float64 `json:"score"`
	StopCount int     `json:"stop_count"`
}

// A location ping reported by a courier device.
type Position struct {
	Point          GeoPoint  `json:"point"`
	SpeedKmh       float64   `json:"speed_kmh"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type ETA struct {
	Target           StopType      `json:"target"`
	RemainingMeters  float64       `json:"remaining_meters"`
	SpeedKmh         float64       `json:"speed_kmh"`
	Remaining        time.Duration `json:"remaining"`
	EstimatedArrival time.Time     `json:"estimated_arrival"`
}
