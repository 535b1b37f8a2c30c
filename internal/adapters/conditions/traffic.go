package conditions

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"time"
)

// HourlyTraffic derives a traffic descriptor from the local hour of day:
// rush hours are heavy, late night is light, the rest moderate.
type HourlyTraffic struct {
	loc *time.Location
}

func NewHourlyTraffic(loc *time.Location) *HourlyTraffic {
	if loc == nil {
		loc = time.UTC
	}
	return &HourlyTraffic{loc: loc}
}

func (h *HourlyTraffic) Traffic(_ context.Context, _ domain.GeoPoint, when time.Time) (domain.Traffic, error) {
	density := TrafficDensity(when.In(h.loc).Hour())
	return domain.Traffic{Level: TrafficLevel(density), Density: density}, nil
}

// TrafficDensity is the expected road occupancy in [0,1] for an hour of day.
func TrafficDensity(hour int) float64 {
	switch {
	case hour >= 7 && hour <= 9, hour >= 16 && hour <= 18:
		return 0.85
	case hour >= 22 || hour <= 5:
		return 0.15
	default:
		return 0.5
	}
}

func TrafficLevel(density float64) domain.TrafficLevel {
	switch {
	case density >= 0.7:
		return domain.TrafficHeavy
	case density >= 0.3:
		return domain.TrafficModerate
	default:
		return domain.TrafficLight
	}
}
