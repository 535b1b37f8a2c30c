package domain

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Immutable geographic coordinates (latitude, longitude) in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects coordinates outside the WGS84 range.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return &ValidationError{Field: "coordinates", Reason: "NaN value", Err: ErrInvalidCoordinates}
	}
	if p.Lat < -90 || p.Lat > 90 {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v out of range [-90,90]", p.Lat), Err: ErrInvalidCoordinates}
	}
	if p.Lon < -180 || p.Lon > 180 {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v out of range [-180,180]", p.Lon), Err: ErrInvalidCoordinates}
	}
	return nil
}

// Return coordinates as [lon, lat] for external API compatibility.
func (p GeoPoint) CoordsToList() []float64 { return []float64{p.Lon, p.Lat} }

// Key is a stable string form used for cache keys.
func (p GeoPoint) Key() string { return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon) }

func (p GeoPoint) String() string { return p.Key() }

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b GeoPoint) float64 {
	lat1 := degreesToRadians(a.Lat)
	lat2 := degreesToRadians(b.Lat)
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLon := degreesToRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// HaversineKm is Haversine in kilometers.
func HaversineKm(a, b GeoPoint) float64 {
	return Haversine(a, b) / 1000
}

// Bearing returns the initial bearing from a to b in degrees, normalised to [0, 360).
func Bearing(a, b GeoPoint) float64 {
	lat1 := degreesToRadians(a.Lat)
	lat2 := degreesToRadians(b.Lat)
	dLon := degreesToRadians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
