package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"math"

	"golang.org/x/sync/errgroup"
)

type ScoringWeights struct {
	Proximity   float64
	Load        float64
	Suitability float64
	Rating      float64
	Specialty   float64
}

func (w ScoringWeights) sum() float64 {
	return w.Proximity + w.Load + w.Suitability + w.Rating + w.Specialty
}

// Normalized scales the weights to sum to 1. Non-positive totals fall back to defaults.
func (w ScoringWeights) Normalized() ScoringWeights {
	total := w.sum()
	if total <= 0 || math.IsNaN(total) {
		w = DefaultScoringConfig().Weights
		total = w.sum()
	}
	return ScoringWeights{
		Proximity:   w.Proximity / total,
		Load:        w.Load / total,
		Suitability: w.Suitability / total,
		Rating:      w.Rating / total,
		Specialty:   w.Specialty / total,
	}
}

type ScoringConfig struct {
	Weights ScoringWeights
	// Distance at which proximity drops to half its maximum.
	ProximityHalfKm  float64
	MetroRadiusKm    float64
	CrossZonePenalty float64
	SevereWindKmh    float64
	SeverePrecipMm   float64
	RainyPrecipMm    float64
	ExpressTripKm    float64
	LongHaulKm       float64
	Parallelism      int
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: ScoringWeights{
			Proximity:   0.40,
			Load:        0.25,
			Suitability: 0.15,
			Rating:      0.10,
			Specialty:   0.05,
		},
		ProximityHalfKm:  2,
		MetroRadiusKm:    30,
		CrossZonePenalty: 0.5,
		SevereWindKmh:    25,
		SeverePrecipMm:   7.5,
		RainyPrecipMm:    0.1,
		ExpressTripKm:    5,
		LongHaulKm:       15,
		Parallelism:      8,
	}
}

// Scorer ranks couriers for one request or a batch of requests.
// It never mutates the couriers it is given.
type Scorer struct {
	cfg       ScoringConfig
	weights   ScoringWeights
	optimizer *RouteOptimizer
}

func NewScorer(cfg ScoringConfig, optimizer *RouteOptimizer) *Scorer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Scorer{cfg: cfg, weights: cfg.Weights.Normalized(), optimizer: optimizer}
}

func (s *Scorer) Weights() ScoringWeights { return s.weights }

// SevereWeather reports conditions under which two-wheelers are not dispatched.
func (s *Scorer) SevereWeather(cond domain.ConditionSnapshot) bool {
	return cond.Weather.WindKmh >= s.cfg.SevereWindKmh || cond.Weather.PrecipitationMm >= s.cfg.SeverePrecipMm
}

// Eligible is the hard filter applied before any scoring: status, concurrent
// request limit, weight and volume headroom, and the severe-weather rule.
func (s *Scorer) Eligible(c *domain.Courier, reqs []*domain.DeliveryRequest, cond domain.ConditionSnapshot) bool {
	if c == nil || len(reqs) == 0 {
		return false
	}

	spec, ok := c.Vehicle.Spec()
	if !ok {
		return false
	}

	switch c.Status {
	case domain.CourierAvailable:
	case domain.CourierBusy:
		if c.ActiveCount() >= spec.MaxConcurrent {
			return false
		}
	default:
		return false
	}

	if c.ActiveCount()+len(reqs) > spec.MaxConcurrent {
		return false
	}

	weight, volume := c.LoadWeightKg, c.LoadVolumeM3
	for _, r := range reqs {
		weight += r.WeightKg
		volume += r.Volume()
	}
	if weight > spec.MaxWeightKg || volume > spec.MaxVolumeM3 {
		return false
	}

	if spec.TwoWheeled && s.SevereWeather(cond) {
		return false
	}

	return c.Location.Validate() == nil
}

// Score rates courier c for request r in [0,100]. Eligibility is not checked.
func (s *Scorer) Score(c *domain.Courier, r *domain.DeliveryRequest, cond domain.ConditionSnapshot) float64 {
	return s.combine(
		s.proximity(domain.HaversineKm(c.Location, r.Pickup)),
		s.load(c),
		s.suitability(c.Vehicle, r, cond),
		s.rating(c),
		s.specialty(c, r),
	)
}

func (s *Scorer) combine(proximity, load, suitability, rating, specialty float64) float64 {
	w := s.weights
	total := w.Proximity*proximity +
		w.Load*load +
		w.Suitability*suitability +
		w.Rating*rating +
		w.Specialty*specialty
	return clamp(total, 0, 100)
}

func (s *Scorer) proximity(km float64) float64 {
	p := 100 / (1 + km/s.cfg.ProximityHalfKm)
	if km > s.cfg.MetroRadiusKm {
		p *= s.cfg.CrossZonePenalty
	}
	return p
}

func (s *Scorer) load(c *domain.Courier) float64 {
	if c.ActiveCount() == 0 {
		return 100
	}
	spec, ok := c.Vehicle.Spec()
	if !ok || spec.MaxConcurrent == 0 {
		return 0
	}
	return clamp((1-float64(c.ActiveCount())/float64(spec.MaxConcurrent))*100, 0, 100)
}

var baseSuitability = map[domain.VehicleClass]float64{
	domain.VehicleBike:    60,
	domain.VehicleScooter: 70,
	domain.VehicleCar:     90,
	domain.VehicleVan:     100,
}

func (s *Scorer) suitability(v domain.VehicleClass, r *domain.DeliveryRequest, cond domain.ConditionSnapshot) float64 {
	score := baseSuitability[v]
	twoWheeled := v == domain.VehicleBike || v == domain.VehicleScooter

	if cond.Weather.Wet(s.cfg.RainyPrecipMm) {
		if v.Enclosed() {
			score += 20
		} else {
			score -= 50
		}
	}
	if cond.Weather.Condition == domain.WeatherStormy {
		switch v {
		case domain.VehicleVan:
			score += 10
		case domain.VehicleBike:
			score -= 30
		}
	}

	if r.Tier == domain.TierExpress && r.TripKm() <= s.cfg.ExpressTripKm && twoWheeled {
		score += 15
	}

	if r.Heavy() || r.Large() {
		if v.Enclosed() {
			score += 20
		} else {
			score -= 20
		}
	}

	if r.Fragile {
		switch {
		case v.Enclosed():
			score += 10
		case v == domain.VehicleBike:
			score -= 10
		}
	}

	return clamp(score, 0, 100)
}

func (s *Scorer) rating(c *domain.Courier) float64 {
	return clamp(c.Rating/5*100, 0, 100)
}

func (s *Scorer) specialty(c *domain.Courier, r *domain.DeliveryRequest) float64 {
	experience := math.Min(100, float64(c.CompletedDeliveries)*2)

	var needed []domain.Specialty
	if r.Fragile {
		needed = append(needed, domain.SpecialtyFragile)
	}
	if r.TripKm() > s.cfg.LongHaulKm {
		needed = append(needed, domain.SpecialtyLongHaul)
	}
	if r.Tier == domain.TierExpress {
		needed = append(needed, domain.SpecialtyExpress)
	}
	if r.Heavy() {
		needed = append(needed, domain.SpecialtyHeavy)
	}

	match := 0.0
	if len(needed) > 0 {
		hits := 0
		for _, sp := range needed {
			if c.HasSpecialty(sp) {
				hits++
			}
		}
		match = float64(hits) / float64(len(needed)) * 100
	}

	return 0.6*experience + 0.4*match
}

type scored struct {
	index    int
	courier  *domain.Courier
	score    float64
	eligible bool
}

// better reports whether a outranks b: score, then smaller load, then higher
// rating, then earlier position in the candidate list.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.courier.ActiveCount() != b.courier.ActiveCount() {
		return a.courier.ActiveCount() < b.courier.ActiveCount()
	}
	if a.courier.Rating != b.courier.Rating {
		return a.courier.Rating > b.courier.Rating
	}
	return a.index < b.index
}

func pick(results []scored) (*domain.Courier, float64, bool) {
	var best *scored
	for i := range results {
		r := results[i]
		if !r.eligible {
			continue
		}
		if best == nil || better(r, *best) {
			best = &results[i]
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best.courier, best.score, true
}

// Best picks the highest-ranked eligible courier for r. ok is false when no
// candidate passes the eligibility gate or ctx is cancelled.
func (s *Scorer) Best(ctx context.Context, candidates []*domain.Courier, r *domain.DeliveryRequest, cond domain.ConditionSnapshot) (*domain.Courier, float64, bool) {
	results := make([]scored, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scored{index: i, courier: c}
			if !s.Eligible(c, []*domain.DeliveryRequest{r}, cond) {
				return nil
			}
			results[i].eligible = true
			results[i].score = s.Score(c, r, cond)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, false
	}

	return pick(results)
}

// BatchStops expands requests into optimizer input.
func BatchStops(reqs []*domain.DeliveryRequest) []domain.StopCandidate {
	stops := make([]domain.StopCandidate, 0, 2*len(reqs))
	for _, r := range reqs {
		stops = append(stops, domain.StopCandidate{Type: domain.StopPickup, Location: r.Pickup, RequestID: r.ID})
	}
	for _, r := range reqs {
		stops = append(stops, domain.StopCandidate{Type: domain.StopDropoff, Location: r.Dropoff, RequestID: r.ID})
	}
	return stops
}

// ScoreBatch rates c for serving all reqs on one combined route. Proximity is
// replaced by a blend of per-request route length and batching efficiency.
func (s *Scorer) ScoreBatch(c *domain.Courier, reqs []*domain.DeliveryRequest, cond domain.ConditionSnapshot) (float64, error) {
	route, err := s.optimizer.Optimize(c.Location, BatchStops(reqs))
	if err != nil {
		return 0, err
	}

	kmPerRequest := route.DistanceKm() / float64(len(reqs))
	proximity := 0.5*(100/(1+kmPerRequest/5)) + 0.5*route.EfficiencyScore

	var suitability, specialty float64
	for _, r := range reqs {
		suitability += s.suitability(c.Vehicle, r, cond)
		specialty += s.specialty(c, r)
	}
	n := float64(len(reqs))

	return s.combine(proximity, s.load(c), suitability/n, s.rating(c), specialty/n), nil
}

// BestForBatch picks the courier best placed to take every request in reqs.
func (s *Scorer) BestForBatch(ctx context.Context, candidates []*domain.Courier, reqs []*domain.DeliveryRequest, cond domain.ConditionSnapshot) (*domain.Courier, float64, bool) {
	if len(reqs) == 0 {
		return nil, 0, false
	}

	results := make([]scored, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scored{index: i, courier: c}
			if !s.Eligible(c, reqs, cond) {
				return nil
			}
			score, err := s.ScoreBatch(c, reqs, cond)
			if err != nil {
				// A request set the optimizer rejects cannot be served by anyone.
				return err
			}
			results[i].eligible = true
			results[i].score = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, false
	}

	return pick(results)
}
