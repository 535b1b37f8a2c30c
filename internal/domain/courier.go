package domain

import "slices"

type VehicleClass string

const (
	VehicleBike    VehicleClass = "bike"
	VehicleScooter VehicleClass = "scooter"
	VehicleCar     VehicleClass = "car"
	VehicleVan     VehicleClass = "van"
)

// Physical limits of a vehicle class.
type VehicleSpec struct {
	MaxWeightKg   float64
	MaxVolumeM3   float64
	AvgSpeedKmh   float64
	MaxConcurrent int
	TwoWheeled    bool
}

var vehicleCatalogue = map[VehicleClass]VehicleSpec{
	VehicleBike:    {MaxWeightKg: 5, MaxVolumeM3: 0.03, AvgSpeedKmh: 15, MaxConcurrent: 4, TwoWheeled: true},
	VehicleScooter: {MaxWeightKg: 15, MaxVolumeM3: 0.08, AvgSpeedKmh: 25, MaxConcurrent: 6, TwoWheeled: true},
	VehicleCar:     {MaxWeightKg: 50, MaxVolumeM3: 0.5, AvgSpeedKmh: 35, MaxConcurrent: 8},
	VehicleVan:     {MaxWeightKg: 500, MaxVolumeM3: 3, AvgSpeedKmh: 30, MaxConcurrent: 12},
}

// Spec returns the catalogue entry; ok is false for an unknown class.
func (v VehicleClass) Spec() (VehicleSpec, bool) {
	s, ok := vehicleCatalogue[v]
	return s, ok
}

func (v VehicleClass) Enclosed() bool {
	return v == VehicleCar || v == VehicleVan
}

type CourierStatus string

const (
	CourierAvailable CourierStatus = "available"
	CourierBusy      CourierStatus = "busy"
	CourierOffline   CourierStatus = "offline"
	CourierSuspended CourierStatus = "suspended"
)

type Specialty string

const (
	SpecialtyFragile  Specialty = "fragile"
	SpecialtyLongHaul Specialty = "long_haul"
	SpecialtyExpress  Specialty = "express"
	SpecialtyHeavy    Specialty = "heavy"
)

// Courier is the dispatchable unit. Live copies are owned by the courier
// ledger; everything handed out of it is a snapshot.
type Courier struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Vehicle             VehicleClass  `json:"vehicle"`
	Location            GeoPoint      `json:"location"`
	Status              CourierStatus `json:"status"`
	Rating              float64       `json:"rating"`
	CompletedDeliveries int           `json:"completed_deliveries"`
	Specialties         []Specialty   `json:"specialties"`
	ActiveRequests      []string      `json:"active_requests"`
	LoadWeightKg        float64       `json:"load_weight_kg"`
	LoadVolumeM3        float64       `json:"load_volume_m3"`
}

func (c *Courier) ActiveCount() int { return len(c.ActiveRequests) }

func (c *Courier) HasSpecialty(s Specialty) bool {
	return slices.Contains(c.Specialties, s)
}

func (c *Courier) HasRequest(id string) bool {
	return slices.Contains(c.ActiveRequests, id)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Courier) Clone() *Courier {
	out := *c
	out.Specialties = slices.Clone(c.Specialties)
	out.ActiveRequests = slices.Clone(c.ActiveRequests)
	return &out
}
