package repositories

import (
	"courier-dispatch-service/internal/domain"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type CourierSeed struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Vehicle             string   `json:"vehicle"`
	Lat                 float64  `json:"lat"`
	Lon                 float64  `json:"lon"`
	Rating              float64  `json:"rating"`
	CompletedDeliveries int      `json:"completed_deliveries"`
	Specialties         []string `json:"specialties"`
}

// Read the courier roster from a JSON file.
func LoadCouriers(jsonPath string) ([]*domain.Courier, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("load couriers: read %q: %w", jsonPath, err)
	}
	return ParseCouriers(bytes)
}

// Parse and validate a JSON courier roster.
func ParseCouriers(raw []byte) ([]*domain.Courier, error) {
	var data []CourierSeed
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("load couriers: parse json: %w", err)
	}

	seen := make(map[string]struct{}, len(data))
	out := make([]*domain.Courier, 0, len(data))
	for i, item := range data {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("load couriers: item at index %d: id cannot be empty", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("load couriers: duplicate id %q at index %d", id, i+1)
		}
		seen[id] = struct{}{}

		vehicle := domain.VehicleClass(strings.ToLower(strings.TrimSpace(item.Vehicle)))
		if _, ok := vehicle.Spec(); !ok {
			return nil, fmt.Errorf("load couriers: courier %q: unknown vehicle %q", id, item.Vehicle)
		}

		loc := domain.GeoPoint{Lat: item.Lat, Lon: item.Lon}
		if err := loc.Validate(); err != nil {
			return nil, fmt.Errorf("load couriers: courier %q: %w", id, err)
		}

		specialties := make([]domain.Specialty, 0, len(item.Specialties))
		for _, s := range item.Specialties {
			specialties = append(specialties, domain.Specialty(strings.TrimSpace(s)))
		}

		out = append(out, &domain.Courier{
			ID:                  id,
			Name:                item.Name,
			Vehicle:             vehicle,
			Location:            loc,
			Status:              domain.CourierAvailable,
			Rating:              item.Rating,
			CompletedDeliveries: item.CompletedDeliveries,
			Specialties:         specialties,
		})
	}

	return out, nil
}
