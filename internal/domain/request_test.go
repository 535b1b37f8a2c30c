package domain

import (
	"errors"
	"testing"
)

func TestRequestTransition(t *testing.T) {
	req := &DeliveryRequest{ID: "r1"}

	steps := []RequestState{RequestAssigned, RequestPickedUp, RequestInTransit, RequestDelivered}
	for _, next := range steps {
		if err := req.Transition(next); err != nil {
			t.Fatalf("transition to %s: unexpected error: %v", next, err)
		}
	}

	if req.State != RequestDelivered {
		t.Fatalf("state = %s, want %s", req.State, RequestDelivered)
	}

	err := req.Transition(RequestFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("leaving terminal state: err = %v, want ErrInvalidTransition", err)
	}
}

func TestRequestTransitionRejectsSkip(t *testing.T) {
	req := &DeliveryRequest{ID: "r1", State: RequestUnassigned}

	if err := req.Transition(RequestDelivered); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if req.State != RequestUnassigned {
		t.Fatalf("state changed on rejected transition: %s", req.State)
	}
}

func TestRequestValidate(t *testing.T) {
	ok := DeliveryRequest{
		ID:      "r1",
		Pickup:  GeoPoint{Lat: 1, Lon: 1},
		Dropoff: GeoPoint{Lat: 2, Lon: 2},
		Tier:    TierExpress,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badPickup := ok
	badPickup.Pickup = GeoPoint{Lat: 91, Lon: 0}
	err := badPickup.Validate()
	if !errors.Is(err, ErrInvalidCoordinates) || !IsValidation(err) {
		t.Fatalf("err = %v, want validation error wrapping ErrInvalidCoordinates", err)
	}

	noID := ok
	noID.ID = " "
	if err := noID.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}

	badTier := ok
	badTier.Tier = "overnight"
	if err := badTier.Validate(); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestRequestVolume(t *testing.T) {
	req := DeliveryRequest{Dimensions: Dimensions{LengthCm: 50, WidthCm: 40, HeightCm: 30}}
	if got := req.Volume(); got < 0.0599 || got > 0.0601 {
		t.Fatalf("volume = %v, want 0.06", got)
	}
	if req.Large() {
		t.Fatalf("50cm side should not count as large")
	}
}
