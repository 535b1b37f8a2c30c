package domain

import (
	"fmt"
	"strings"
)

type RequestState string

const (
	RequestUnassigned RequestState = "unassigned"
	RequestAssigned   RequestState = "assigned"
	RequestPickedUp   RequestState = "picked_up"
	RequestInTransit  RequestState = "in_transit"
	RequestDelivered  RequestState = "delivered"
	RequestFailed     RequestState = "failed"
)

var validTransitions = map[RequestState][]RequestState{
	RequestUnassigned: {RequestAssigned, RequestFailed},
	RequestAssigned:   {RequestPickedUp, RequestUnassigned, RequestFailed},
	RequestPickedUp:   {RequestInTransit, RequestDelivered, RequestFailed},
	RequestInTransit:  {RequestDelivered, RequestFailed},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s RequestState) CanTransitionTo(next RequestState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal states are never left.
func (s RequestState) Terminal() bool {
	return s == RequestDelivered || s == RequestFailed
}

type ServiceTier string

const (
	TierStandard ServiceTier = "standard"
	TierExpress  ServiceTier = "express"
)

// Package dimensions in centimeters.
type Dimensions struct {
	LengthCm float64 `json:"length_cm"`
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
}

// Represents a single pickup-to-dropoff job.
// Requests are created at intake and handed to the dispatcher fully formed;
// only assignment and tracking move them through their lifecycle.
type DeliveryRequest struct {
	ID             string       `json:"id"`
	Pickup         GeoPoint     `json:"pickup"`
	PickupAddress  string       `json:"pickup_address"`
	Dropoff        GeoPoint     `json:"dropoff"`
	DropoffAddress string       `json:"dropoff_address"`
	WeightKg       float64      `json:"weight_kg"`
	Dimensions     Dimensions   `json:"dimensions"`
	Fragile        bool         `json:"fragile"`
	Tier           ServiceTier  `json:"tier"`
	State          RequestState `json:"state"`
}

// Volume in cubic meters derived from the centimeter dimensions.
func (r *DeliveryRequest) Volume() float64 {
	d := r.Dimensions
	return d.LengthCm * d.WidthCm * d.HeightCm / 1_000_000
}

// Heavy reports whether the item needs a car or van in practice.
func (r *DeliveryRequest) Heavy() bool {
	return r.WeightKg > 10
}

// Large reports whether any side exceeds half a meter.
func (r *DeliveryRequest) Large() bool {
	d := r.Dimensions
	return d.LengthCm > 50 || d.WidthCm > 50 || d.HeightCm > 50
}

// TripKm is the direct pickup to dropoff distance.
func (r *DeliveryRequest) TripKm() float64 {
	return HaversineKm(r.Pickup, r.Dropoff)
}

func (r *DeliveryRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must be non-empty", Err: ErrInvalidRequest}
	}
	if err := r.Pickup.Validate(); err != nil {
		return fmt.Errorf("request %s pickup: %w", r.ID, err)
	}
	if err := r.Dropoff.Validate(); err != nil {
		return fmt.Errorf("request %s dropoff: %w", r.ID, err)
	}
	if r.WeightKg < 0 {
		return &ValidationError{Field: "weight_kg", Reason: "must be >= 0", Err: ErrInvalidRequest}
	}
	d := r.Dimensions
	if d.LengthCm < 0 || d.WidthCm < 0 || d.HeightCm < 0 {
		return &ValidationError{Field: "dimensions", Reason: "must be >= 0", Err: ErrInvalidRequest}
	}
	switch r.Tier {
	case "", TierStandard, TierExpress:
	default:
		return &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", r.Tier), Err: ErrInvalidRequest}
	}
	return nil
}

// Move the request to next, rejecting transitions the lifecycle forbids.
func (r *DeliveryRequest) Transition(next RequestState) error {
	current := r.State
	if current == "" {
		current = RequestUnassigned
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("request %s: %s -> %s: %w", r.ID, current, next, ErrInvalidTransition)
	}
	r.State = next
	return nil
}
