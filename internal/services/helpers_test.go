package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"sync"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) ofType(t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type stubConditions struct {
	snap domain.ConditionSnapshot
	err  error
}

func (s stubConditions) Snapshot(context.Context, domain.GeoPoint) (domain.ConditionSnapshot, error) {
	if s.err != nil {
		return domain.ConditionSnapshot{}, s.err
	}
	return s.snap, nil
}

func clearConditions() domain.ConditionSnapshot {
	return domain.DefaultSnapshot(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
}

func pickup(id string, lat, lon float64) domain.StopCandidate {
	return domain.StopCandidate{Type: domain.StopPickup, Location: domain.GeoPoint{Lat: lat, Lon: lon}, RequestID: id}
}

func dropoff(id string, lat, lon float64) domain.StopCandidate {
	return domain.StopCandidate{Type: domain.StopDropoff, Location: domain.GeoPoint{Lat: lat, Lon: lon}, RequestID: id}
}

func newRequest(id string, from, to domain.GeoPoint, weightKg float64) *domain.DeliveryRequest {
	return &domain.DeliveryRequest{
		ID:         id,
		Pickup:     from,
		Dropoff:    to,
		WeightKg:   weightKg,
		Dimensions: domain.Dimensions{LengthCm: 20, WidthCm: 20, HeightCm: 10},
		Tier:       domain.TierStandard,
	}
}

func newCourier(id string, v domain.VehicleClass, at domain.GeoPoint) *domain.Courier {
	return &domain.Courier{
		ID:       id,
		Name:     id,
		Vehicle:  v,
		Location: at,
		Status:   domain.CourierAvailable,
		Rating:   4.5,
	}
}
