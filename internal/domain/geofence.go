package domain

import "time"

type GeofenceKind string

const (
	GeofencePickup  GeofenceKind = "pickup"
	GeofenceDropoff GeofenceKind = "dropoff"
)

// Circular arrival region around a pickup or dropoff.
// Once Triggered it stays triggered for the lifetime of the session.
type Geofence struct {
	Kind         GeofenceKind `json:"kind"`
	Center       GeoPoint     `json:"center"`
	RadiusMeters float64      `json:"radius_meters"`
	Triggered    bool         `json:"triggered"`
	TriggeredAt  time.Time    `json:"triggered_at,omitzero"`
}

// Contains is boundary-inclusive.
func (g Geofence) Contains(p GeoPoint) bool {
	return Haversine(g.Center, p) <= g.RadiusMeters
}
