package main

import (
	"context"
	"courier-dispatch-service/internal/adapters/conditions"
	"courier-dispatch-service/internal/adapters/notify"
	"courier-dispatch-service/internal/adapters/roadnetwork"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/services"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

type simOptions struct {
	Seed      int64
	Couriers  int
	Requests  int
	BatchSize int
	CityLat   float64
	CityLon   float64
	RadiusKm  float64
	Weather   string
	WindKmh   float64
	PrecipMm  float64
	Hour      int
	LogLevel  string
}

func (o simOptions) validate() error {
	if o.Couriers <= 0 || o.Requests <= 0 {
		return fmt.Errorf("couriers and requests must be positive")
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch must be positive")
	}
	if o.Hour < 0 || o.Hour > 23 {
		return fmt.Errorf("hour must be in [0,23]")
	}
	switch domain.WeatherCondition(o.Weather) {
	case domain.WeatherClear, domain.WeatherCloudy, domain.WeatherRainy,
		domain.WeatherSnowy, domain.WeatherFoggy, domain.WeatherStormy:
	default:
		return fmt.Errorf("unknown weather %q", o.Weather)
	}
	return (domain.GeoPoint{Lat: o.CityLat, Lon: o.CityLon}).Validate()
}

// fixedConditions reports the same weather everywhere with traffic from the
// hour-of-day model.
type fixedConditions struct {
	snap domain.ConditionSnapshot
}

func newFixedConditions(o simOptions) fixedConditions {
	density := conditions.TrafficDensity(o.Hour)
	w := domain.Weather{
		Condition:       domain.WeatherCondition(o.Weather),
		TemperatureC:    15,
		WindKmh:         o.WindKmh,
		PrecipitationMm: o.PrecipMm,
		VisibilityM:     10000,
	}
	t := domain.Traffic{Level: conditions.TrafficLevel(density), Density: density}
	return fixedConditions{snap: domain.NewSnapshot(w, t, time.Now(), domain.ConfidenceMedium)}
}

func (f fixedConditions) Snapshot(context.Context, domain.GeoPoint) (domain.ConditionSnapshot, error) {
	return f.snap, nil
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[domain.EventType]int
}

func (c *eventCounter) Notify(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	c.counts[ev.Type]++
	c.mu.Unlock()
	return nil
}

type report struct {
	Couriers   int
	Requests   int
	Assigned   int
	Unassigned int
	Delivered  int
	Routes     int
	TotalKm    float64
	ScoreSum   float64
	Efficiency float64
	ByVehicle  map[domain.VehicleClass]int
	Events     map[domain.EventType]int
	Conditions domain.ConditionSnapshot
	Elapsed    time.Duration
}

func runSimulation(ctx context.Context, o simOptions) (*report, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	lg, err := logger.New("development", o.LogLevel)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lg.Sync() }()

	started := time.Now()
	fx := newFixtures(o.Seed, domain.GeoPoint{Lat: o.CityLat, Lon: o.CityLon}, o.RadiusKm)

	ledger := services.NewCourierLedger()
	for i := 0; i < o.Couriers; i++ {
		if err := ledger.Register(fx.courier()); err != nil {
			return nil, fmt.Errorf("register courier: %w", err)
		}
	}

	reqs := make([]*domain.DeliveryRequest, o.Requests)
	for i := range reqs {
		reqs[i] = fx.request()
	}

	cond := newFixedConditions(o)
	counter := &eventCounter{counts: make(map[domain.EventType]int)}
	notifier := notify.Fanout{notify.NewLogNotifier(lg), counter}

	optimizer := services.NewRouteOptimizer(services.DefaultOptimizerConfig())
	planner := services.NewRoutePlanner(optimizer, roadnetwork.NewStraightLine(0), lg)
	tracker := services.NewTracker(services.DefaultTrackingConfig(), notifier, lg)
	dispatcher := services.NewDispatcher(services.DispatcherDeps{
		Scorer:      services.NewScorer(services.DefaultScoringConfig(), optimizer),
		Ledger:      ledger,
		Planner:     planner,
		Tracker:     tracker,
		Reevaluator: services.NewReevaluator(services.DefaultReevaluationConfig(), planner, cond, notifier, lg),
		Conditions:  cond,
		Notifier:    notifier,
		Logger:      lg,
	})
	defer dispatcher.Shutdown()

	rep := &report{
		Couriers:   o.Couriers,
		Requests:   o.Requests,
		ByVehicle:  make(map[domain.VehicleClass]int),
		Conditions: cond.snap,
	}

	var assigned []string
	bar := progressbar.Default(int64(len(reqs)), "assigning")
	for start := 0; start < len(reqs); start += o.BatchSize {
		chunk := reqs[start:min(start+o.BatchSize, len(reqs))]

		var res services.AssignResult
		if len(chunk) == 1 {
			res, err = dispatcher.Assign(ctx, chunk[0], nil)
		} else {
			res, err = dispatcher.AssignBatch(ctx, chunk, nil)
		}
		if err != nil {
			return nil, err
		}
		_ = bar.Add(len(chunk))

		if !res.Assigned {
			rep.Unassigned += len(chunk)
			continue
		}
		rep.Routes++
		rep.Assigned += len(res.Requests)
		rep.TotalKm += res.Route.DistanceKm()
		rep.ScoreSum += res.Score
		rep.Efficiency += res.Route.EfficiencyScore
		rep.ByVehicle[res.Courier.Vehicle] += len(res.Requests)
		for _, r := range res.Requests {
			assigned = append(assigned, r.ID)
		}
	}

	bar = progressbar.Default(int64(len(assigned)), "delivering")
	for _, id := range assigned {
		if err := deliver(ctx, dispatcher, id); err != nil {
			lg.Warn("delivery failed", zap.String("request_id", id), zap.Error(err))
			if _, ferr := dispatcher.FailDelivery(ctx, id, err.Error()); ferr != nil {
				lg.Warn("fail delivery", zap.String("request_id", id), zap.Error(ferr))
			}
		} else {
			rep.Delivered++
		}
		_ = bar.Add(1)
	}

	counter.mu.Lock()
	rep.Events = counter.counts
	counter.mu.Unlock()
	rep.Elapsed = time.Since(started)
	return rep, nil
}

// deliver drives a courier to the pickup and then the dropoff of one request.
func deliver(ctx context.Context, d *services.Dispatcher, requestID string) error {
	r, ok := d.Request(requestID)
	if !ok {
		return fmt.Errorf("request %s is not open", requestID)
	}
	now := time.Now()
	for _, p := range []domain.GeoPoint{r.Pickup, r.Dropoff} {
		now = now.Add(5 * time.Minute)
		if err := d.RecordPosition(ctx, requestID, domain.Position{Point: p, SpeedKmh: 20, RecordedAt: now}); err != nil {
			return err
		}
	}
	_, err := d.CompleteDelivery(ctx, requestID)
	return err
}

func (r *report) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "conditions\t%s, traffic %s, impact %s (%.2f)\n",
		r.Conditions.Weather.Condition, r.Conditions.Traffic.Level, r.Conditions.ImpactLevel, r.Conditions.ImpactScore)
	fmt.Fprintf(tw, "couriers\t%d\n", r.Couriers)
	fmt.Fprintf(tw, "requests\t%d\n", r.Requests)
	fmt.Fprintf(tw, "assigned\t%d\n", r.Assigned)
	fmt.Fprintf(tw, "unassigned\t%d\n", r.Unassigned)
	fmt.Fprintf(tw, "delivered\t%d\n", r.Delivered)
	if r.Routes > 0 {
		fmt.Fprintf(tw, "avg score\t%.1f\n", r.ScoreSum/float64(r.Routes))
		fmt.Fprintf(tw, "avg route km\t%.2f\n", r.TotalKm/float64(r.Routes))
		fmt.Fprintf(tw, "avg efficiency\t%.1f%%\n", r.Efficiency/float64(r.Routes))
	}

	vehicles := make([]string, 0, len(r.ByVehicle))
	for v := range r.ByVehicle {
		vehicles = append(vehicles, string(v))
	}
	sort.Strings(vehicles)
	for _, v := range vehicles {
		fmt.Fprintf(tw, "  %s\t%d\n", v, r.ByVehicle[domain.VehicleClass(v)])
	}

	types := make([]string, 0, len(r.Events))
	for t := range r.Events {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(tw, "event %s\t%d\n", t, r.Events[domain.EventType(t)])
	}
	fmt.Fprintf(tw, "elapsed\t%s\n", r.Elapsed.Round(time.Millisecond))
}
