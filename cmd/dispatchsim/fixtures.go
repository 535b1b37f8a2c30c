package main

import (
	"courier-dispatch-service/internal/domain"
	"math"
	"math/rand"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"
)

var (
	vehicleMix  = []string{"bike", "bike", "scooter", "scooter", "scooter", "car", "car", "van"}
	specialties = []domain.Specialty{domain.SpecialtyFragile, domain.SpecialtyLongHaul, domain.SpecialtyExpress, domain.SpecialtyHeavy}
)

type fixtures struct {
	fake   faker.Faker
	center domain.GeoPoint
	// Half-width of the generation square in degrees.
	latRange float64
	lonRange float64
}

func newFixtures(seed int64, center domain.GeoPoint, radiusKm float64) *fixtures {
	latRange := radiusKm / 111.0 // Approx. conversion from km to degrees
	return &fixtures{
		fake:     faker.NewWithSeed(rand.NewSource(seed)),
		center:   center,
		latRange: latRange,
		lonRange: latRange / math.Cos(center.Lat*math.Pi/180.0),
	}
}

func (f *fixtures) point() domain.GeoPoint {
	return domain.GeoPoint{
		Lat: f.center.Lat + f.fake.Float64(6, -1000, 1000)/1000*f.latRange,
		Lon: f.center.Lon + f.fake.Float64(6, -1000, 1000)/1000*f.lonRange,
	}
}

func (f *fixtures) courier() *domain.Courier {
	c := &domain.Courier{
		ID:                  cuid.New(),
		Name:                f.fake.Person().Name(),
		Vehicle:             domain.VehicleClass(f.fake.RandomStringElement(vehicleMix)),
		Location:            f.point(),
		Status:              domain.CourierAvailable,
		Rating:              f.fake.Float64(1, 3, 5),
		CompletedDeliveries: f.fake.IntBetween(0, 120),
	}
	for _, s := range specialties {
		if f.fake.IntBetween(0, 3) == 0 {
			c.Specialties = append(c.Specialties, s)
		}
	}
	return c
}

func (f *fixtures) request() *domain.DeliveryRequest {
	r := &domain.DeliveryRequest{
		ID:             cuid.New(),
		Pickup:         f.point(),
		PickupAddress:  f.fake.Address().Address(),
		Dropoff:        f.point(),
		DropoffAddress: f.fake.Address().Address(),
		WeightKg:       f.fake.Float64(1, 0, 25),
		Dimensions: domain.Dimensions{
			LengthCm: f.fake.Float64(0, 5, 60),
			WidthCm:  f.fake.Float64(0, 5, 40),
			HeightCm: f.fake.Float64(0, 2, 30),
		},
		Fragile: f.fake.IntBetween(0, 4) == 0,
		Tier:    domain.TierStandard,
	}
	if f.fake.IntBetween(0, 3) == 0 {
		r.Tier = domain.TierExpress
	}
	return r
}
