package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reevalFixture struct {
	tracker  *Tracker
	reeval   *Reevaluator
	notifier *recordingNotifier
	session  *TrackingSession
}

// newReevalFixture starts a session whose route visits both pickups before
// either dropoff, far worse than serving one side of the origin at a time.
func newReevalFixture(t *testing.T, cfg ReevaluationConfig, cond ports.ConditionsProvider) reevalFixture {
	t.Helper()

	origin := domain.GeoPoint{Lat: 0, Lon: 0}
	opt := NewRouteOptimizer(DefaultOptimizerConfig())
	bad := opt.Evaluate(origin, []domain.StopCandidate{
		pickup("east", 0, 0.10),
		pickup("west", 0, -0.10),
		dropoff("east", 0, 0.11),
		dropoff("west", 0, -0.11),
	})

	n := &recordingNotifier{}
	tr := NewTracker(DefaultTrackingConfig(), n, nil)
	req := newRequest("east", domain.GeoPoint{Lat: 0, Lon: 0.10}, domain.GeoPoint{Lat: 0, Lon: 0.11}, 1)
	s, err := tr.Start(req, newCourier("van", domain.VehicleVan, origin), bad)
	require.NoError(t, err)

	planner := NewRoutePlanner(opt, nil, nil)
	r := NewReevaluator(cfg, planner, cond, n, nil)
	t.Cleanup(r.Close)

	return reevalFixture{tracker: tr, reeval: r, notifier: n, session: s}
}

func TestShouldRerouteHysteresis(t *testing.T) {
	r := NewReevaluator(DefaultReevaluationConfig(), nil, nil, nil, nil)
	defer r.Close()

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		active := rng.Float64()*200 - 100
		gain := rng.Float64() * 15
		assert.False(t, r.ShouldReroute(active, active+gain), "gain %.3f within margin", gain)
	}
	assert.False(t, r.ShouldReroute(50, 65))
	assert.True(t, r.ShouldReroute(50, 65.001))
}

// swingConditions reports a clear snapshot with an adjustable impact score.
type swingConditions struct {
	mu     sync.Mutex
	impact float64
}

func (c *swingConditions) set(impact float64) {
	c.mu.Lock()
	c.impact = impact
	c.mu.Unlock()
}

func (c *swingConditions) Snapshot(context.Context, domain.GeoPoint) (domain.ConditionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := clearConditions()
	snap.ImpactScore = c.impact
	return snap, nil
}

func TestTickHysteresisUnderSwingingConditions(t *testing.T) {
	ctx := context.Background()
	cond := &swingConditions{}

	// Place the margin exactly where the fixture's reroute gain sits at impact 0.5.
	base := newReevalFixture(t, DefaultReevaluationConfig(), cond)
	snap := base.session.Snapshot()
	remaining := snap.Route.Candidates(0)
	planner := NewRoutePlanner(NewRouteOptimizer(DefaultOptimizerConfig()), nil, nil)
	candidate, err := planner.Plan(ctx, domain.GeoPoint{}, remaining)
	require.NoError(t, err)
	active, err := planner.Measure(ctx, domain.GeoPoint{}, remaining)
	require.NoError(t, err)
	pivot := domain.ConditionSnapshot{ImpactScore: 0.5}

	cfg := DefaultReevaluationConfig()
	cfg.RerouteMargin = base.reeval.RouteScore(candidate, pivot) - base.reeval.RouteScore(active, pivot)
	require.Positive(t, cfg.RerouteMargin)

	f := newReevalFixture(t, cfg, cond)
	_, err = f.tracker.Ingest(ctx, "east", ping(domain.GeoPoint{}, 20))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		impact := 0.5 - 0.001
		if i%2 == 1 {
			impact -= rng.Float64() * 0.2
		}
		cond.set(impact)

		d, err := f.reeval.Tick(ctx, f.session)
		require.NoError(t, err)
		require.False(t, d.Rerouted, "tick %d at impact %.4f", i, impact)
		require.LessOrEqual(t, d.CandidateScore, d.ActiveScore+cfg.RerouteMargin)
	}
	assert.Zero(t, f.session.Snapshot().RerouteCount)
	assert.Empty(t, f.notifier.ofType(domain.EventRerouted))

	cond.set(0.5 + 0.001)
	d, err := f.reeval.Tick(ctx, f.session)
	require.NoError(t, err)
	assert.True(t, d.Rerouted)

	for _, impact := range []float64{0.9, 0.1, 0.9} {
		cond.set(impact)
		d, err = f.reeval.Tick(ctx, f.session)
		require.NoError(t, err)
		assert.False(t, d.Rerouted)
	}
	assert.Equal(t, 1, f.session.Snapshot().RerouteCount)
}

func TestRouteScorePenalisesImpact(t *testing.T) {
	r := NewReevaluator(DefaultReevaluationConfig(), nil, nil, nil, nil)
	defer r.Close()

	route := domain.Route{TotalDistanceMeters: 5000, TotalDuration: 20 * time.Minute}
	calm := domain.ConditionSnapshot{ImpactScore: 0}
	rough := domain.ConditionSnapshot{ImpactScore: 0.5}

	assert.InDelta(t, 100-10-20, r.RouteScore(route, calm), 1e-9)
	assert.InDelta(t, 100-10-30, r.RouteScore(route, rough), 1e-9)
}

func TestTickSkipsUntilSessionIsActive(t *testing.T) {
	f := newReevalFixture(t, DefaultReevaluationConfig(), stubConditions{snap: clearConditions()})

	d, err := f.reeval.Tick(context.Background(), f.session)
	require.NoError(t, err)
	assert.True(t, d.Skipped)
}

func TestTickReroutesWhenGainClearsMargin(t *testing.T) {
	f := newReevalFixture(t, DefaultReevaluationConfig(), stubConditions{snap: clearConditions()})
	ctx := context.Background()

	_, err := f.tracker.Ingest(ctx, "east", ping(domain.GeoPoint{Lat: 0, Lon: 0}, 20))
	require.NoError(t, err)
	before := f.session.Snapshot().Route.TotalDistanceMeters

	var hooked atomic.Int32
	f.reeval.OnReroute(func(s *TrackingSession, route domain.Route) {
		hooked.Add(1)
		assert.Equal(t, f.session.ID, s.ID)
	})

	d, err := f.reeval.Tick(ctx, f.session)
	require.NoError(t, err)
	require.True(t, d.Rerouted)
	assert.Greater(t, d.CandidateScore, d.ActiveScore+15)

	snap := f.session.Snapshot()
	assert.Equal(t, 1, snap.RerouteCount)
	assert.Less(t, snap.Route.TotalDistanceMeters, before)
	assert.True(t, snap.Route.PrecedenceHolds())
	assert.EqualValues(t, 1, hooked.Load())

	evs := f.notifier.ofType(domain.EventRerouted)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Data.(domain.Reroute).Count)

	// The new route is already optimal; a second tick keeps it.
	d, err = f.reeval.Tick(ctx, f.session)
	require.NoError(t, err)
	assert.False(t, d.Rerouted)
	assert.Equal(t, 1, f.session.Snapshot().RerouteCount)
}

func TestTickAfterPickupKeepsDropoff(t *testing.T) {
	f := newReevalFixture(t, DefaultReevaluationConfig(), stubConditions{snap: clearConditions()})
	ctx := context.Background()

	_, err := f.tracker.Ingest(ctx, "east", ping(domain.GeoPoint{Lat: 0, Lon: 0.10}, 20))
	require.NoError(t, err)

	d, err := f.reeval.Tick(ctx, f.session)
	require.NoError(t, err)
	require.False(t, d.Skipped)

	var sawEastDropoff bool
	for _, s := range d.Candidate.Stops {
		assert.False(t, s.RequestID == "east" && s.Type == domain.StopPickup, "completed pickup replanned")
		if s.RequestID == "east" && s.Type == domain.StopDropoff {
			sawEastDropoff = true
		}
	}
	assert.True(t, sawEastDropoff)
}

func TestTickConditionsFailure(t *testing.T) {
	f := newReevalFixture(t, DefaultReevaluationConfig(), stubConditions{err: errors.New("weather down")})

	_, err := f.tracker.Ingest(context.Background(), "east", ping(domain.GeoPoint{}, 20))
	require.NoError(t, err)

	_, err = f.reeval.Tick(context.Background(), f.session)
	require.Error(t, err)
	assert.Zero(t, f.session.Snapshot().RerouteCount)
}

func TestTickDoesNotRerouteFinishedSession(t *testing.T) {
	f := newReevalFixture(t, DefaultReevaluationConfig(), stubConditions{snap: clearConditions()})
	_, err := f.tracker.Ingest(context.Background(), "east", ping(domain.GeoPoint{}, 20))
	require.NoError(t, err)
	require.NoError(t, f.tracker.Stop("east", "cancelled"))

	d, err := f.reeval.Tick(context.Background(), f.session)
	require.NoError(t, err)
	assert.True(t, d.Skipped)
	assert.Empty(t, f.notifier.ofType(domain.EventRerouted))
}

func TestWatchExitsWhenSessionEnds(t *testing.T) {
	cfg := DefaultReevaluationConfig()
	cfg.Interval = time.Hour
	f := newReevalFixture(t, cfg, stubConditions{snap: clearConditions()})

	f.reeval.Watch(context.Background(), f.session)
	f.reeval.Watch(context.Background(), f.session)
	assert.Equal(t, 1, f.reeval.Watching())

	require.NoError(t, f.tracker.Stop("east", "done"))
	assert.Eventually(t, func() bool { return f.reeval.Watching() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatchExitsOnContextAndClose(t *testing.T) {
	cfg := DefaultReevaluationConfig()
	cfg.Interval = time.Hour
	f := newReevalFixture(t, cfg, stubConditions{snap: clearConditions()})

	ctx, cancel := context.WithCancel(context.Background())
	f.reeval.Watch(ctx, f.session)
	cancel()
	assert.Eventually(t, func() bool { return f.reeval.Watching() == 0 }, time.Second, 5*time.Millisecond)

	f.reeval.Watch(context.Background(), f.session)
	assert.Equal(t, 1, f.reeval.Watching())
	f.reeval.Close()
	assert.Equal(t, 0, f.reeval.Watching())

	f.reeval.Watch(context.Background(), f.session)
	assert.Equal(t, 0, f.reeval.Watching(), "closed reevaluator accepts no watchers")
}

func TestWatchTicksPeriodically(t *testing.T) {
	cfg := DefaultReevaluationConfig()
	cfg.Interval = 10 * time.Millisecond
	f := newReevalFixture(t, cfg, stubConditions{snap: clearConditions()})

	_, err := f.tracker.Ingest(context.Background(), "east", ping(domain.GeoPoint{}, 20))
	require.NoError(t, err)

	f.reeval.Watch(context.Background(), f.session)
	assert.Eventually(t, func() bool { return f.session.Snapshot().RerouteCount == 1 }, 2*time.Second, 10*time.Millisecond)
}
