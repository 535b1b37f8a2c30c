package services

import (
	"context"
	"courier-dispatch-service/internal/adapters/roadnetwork"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	dispatcher *Dispatcher
	ledger     *CourierLedger
	tracker    *Tracker
	notifier   *recordingNotifier
}

func newDispatchFixture(t *testing.T, cond ports.ConditionsProvider, couriers ...*domain.Courier) dispatchFixture {
	t.Helper()

	ledger := NewCourierLedger()
	for _, c := range couriers {
		require.NoError(t, ledger.Register(c))
	}

	n := &recordingNotifier{}
	opt := NewRouteOptimizer(DefaultOptimizerConfig())
	planner := NewRoutePlanner(opt, roadnetwork.NewMock(nil), nil)
	tracker := NewTracker(DefaultTrackingConfig(), n, nil)

	rcfg := DefaultReevaluationConfig()
	rcfg.Interval = time.Hour
	reeval := NewReevaluator(rcfg, planner, cond, n, nil)

	d := NewDispatcher(DispatcherDeps{
		Scorer:      NewScorer(DefaultScoringConfig(), opt),
		Ledger:      ledger,
		Planner:     planner,
		Tracker:     tracker,
		Reevaluator: reeval,
		Conditions:  cond,
		Notifier:    n,
	})
	t.Cleanup(d.Shutdown)

	return dispatchFixture{dispatcher: d, ledger: ledger, tracker: tracker, notifier: n}
}

func clearProvider() stubConditions { return stubConditions{snap: clearConditions()} }

func TestDispatcherDeliveryLifecycle(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("car", domain.VehicleCar, depot))
	ctx := context.Background()
	req := newRequest("r1", nearby, across, 3)

	res, err := f.dispatcher.Assign(ctx, req, nil)
	require.NoError(t, err)
	require.True(t, res.Assigned)
	assert.Equal(t, "car", res.Courier.ID)
	assert.Len(t, res.Route.Stops, 2)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, domain.RequestAssigned, res.Requests[0].State)
	assert.Empty(t, req.State, "caller's request is not mutated")
	assert.Len(t, f.notifier.ofType(domain.EventAssigned), 1)

	c, err := f.ledger.Get("car")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierBusy, c.Status)
	assert.Equal(t, []string{"r1"}, c.ActiveRequests)

	require.NoError(t, f.dispatcher.RecordPosition(ctx, "r1", ping(nearby, 15)))
	open, ok := f.dispatcher.Request("r1")
	require.True(t, ok)
	assert.Equal(t, domain.RequestPickedUp, open.State)

	c, err = f.ledger.Get("car")
	require.NoError(t, err)
	assert.Equal(t, nearby, c.Location)

	done, err := f.dispatcher.CompleteDelivery(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDelivered, done.State)

	c, err = f.ledger.Get("car")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierAvailable, c.Status)
	assert.Equal(t, 1, c.CompletedDeliveries)
	assert.Empty(t, c.ActiveRequests)

	_, ok = f.dispatcher.Request("r1")
	assert.False(t, ok)
	assert.ErrorIs(t, f.dispatcher.RecordPosition(ctx, "r1", ping(across, 15)), domain.ErrSessionNotFound)
	assert.Len(t, f.notifier.ofType(domain.EventDeliveryCompleted), 1)
}

func TestDispatcherNoEligibleCourier(t *testing.T) {
	offline := newCourier("off", domain.VehicleCar, depot)
	offline.Status = domain.CourierOffline
	f := newDispatchFixture(t, clearProvider(), offline)

	res, err := f.dispatcher.Assign(context.Background(), newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)
	assert.False(t, res.Assigned)
	assert.Empty(t, f.notifier.ofType(domain.EventAssigned))
}

func TestDispatcherRejectsDuplicateAndInvalid(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("van", domain.VehicleVan, depot))
	ctx := context.Background()
	req := newRequest("r1", nearby, across, 1)

	_, err := f.dispatcher.Assign(ctx, req, nil)
	require.NoError(t, err)
	_, err = f.dispatcher.Assign(ctx, req, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.dispatcher.Assign(ctx, newRequest("bad", domain.GeoPoint{Lat: 120}, across, 1), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)

	_, err = f.dispatcher.Assign(ctx, nil, nil)
	assert.True(t, domain.IsValidation(err))
}

func TestDispatcherConcurrentAssignRespectsCapacity(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("bike", domain.VehicleBike, depot))
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.dispatcher.Assign(ctx, newRequest(fmt.Sprintf("r%d", i), nearby, across, 0.5), nil)
			if err != nil {
				t.Errorf("assign r%d: %v", i, err)
				return
			}
			if res.Assigned {
				mu.Lock()
				assigned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, assigned)
	c, err := f.ledger.Get("bike")
	require.NoError(t, err)
	assert.Len(t, c.ActiveRequests, 4)
	assert.Len(t, f.tracker.SessionsForCourier("bike"), 4)
}

func TestDispatcherAssignBatchSharesRoute(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(),
		newCourier("van", domain.VehicleVan, depot),
		newCourier("bike", domain.VehicleBike, faraway),
	)

	reqs := []*domain.DeliveryRequest{
		newRequest("a", nearby, across, 20),
		newRequest("b", across, nearby, 20),
	}
	res, err := f.dispatcher.AssignBatch(context.Background(), reqs, nil)
	require.NoError(t, err)
	require.True(t, res.Assigned)
	assert.Equal(t, "van", res.Courier.ID)
	assert.Len(t, res.Route.Stops, 4)
	assert.True(t, res.Route.PrecedenceHolds())
	require.Len(t, res.Sessions, 2)
	for _, s := range res.Sessions {
		assert.Len(t, s.Snapshot().Route.Stops, 4)
	}

	_, err = f.dispatcher.AssignBatch(context.Background(), []*domain.DeliveryRequest{
		newRequest("c", nearby, across, 1),
		newRequest("c", nearby, across, 1),
	}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDispatcherFailDeliveryReleasesCourier(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("car", domain.VehicleCar, depot))
	ctx := context.Background()

	_, err := f.dispatcher.Assign(ctx, newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)

	failed, err := f.dispatcher.FailDelivery(ctx, "r1", "recipient absent")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, failed.State)

	c, err := f.ledger.Get("car")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierAvailable, c.Status)
	assert.Zero(t, c.CompletedDeliveries)
	assert.Len(t, f.notifier.ofType(domain.EventTrackingStopped), 1)

	_, err = f.dispatcher.FailDelivery(ctx, "r1", "again")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDispatcherReplansAfterFinish(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("car", domain.VehicleCar, depot))
	ctx := context.Background()

	_, err := f.dispatcher.Assign(ctx, newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)
	_, err = f.dispatcher.Assign(ctx, newRequest("r2", across, faraway, 1), nil)
	require.NoError(t, err)

	s1, ok := f.tracker.Session("r1")
	require.True(t, ok)
	assert.Len(t, s1.Snapshot().Route.Stops, 4, "first session sees the merged route")

	_, err = f.dispatcher.CompleteDelivery(ctx, "r1")
	require.NoError(t, err)

	s2, ok := f.tracker.Session("r2")
	require.True(t, ok)
	stops := s2.Snapshot().Route.Stops
	require.Len(t, stops, 2)
	for _, st := range stops {
		assert.Equal(t, "r2", st.RequestID)
	}
}

func TestDispatcherAdvance(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("car", domain.VehicleCar, depot))
	ctx := context.Background()

	_, err := f.dispatcher.Assign(ctx, newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.dispatcher.Advance(ctx, "r1", domain.RequestDelivered), domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.dispatcher.Advance(ctx, "r1", domain.RequestInTransit), domain.ErrInvalidTransition)
	require.NoError(t, f.dispatcher.Advance(ctx, "r1", domain.RequestPickedUp))
	require.NoError(t, f.dispatcher.Advance(ctx, "r1", domain.RequestInTransit))
	assert.ErrorIs(t, f.dispatcher.Advance(ctx, "nope", domain.RequestPickedUp), domain.ErrSessionNotFound)
}

func TestDispatcherDegradesWithoutConditions(t *testing.T) {
	f := newDispatchFixture(t, stubConditions{err: errors.New("weather down")}, newCourier("scooter", domain.VehicleScooter, depot))

	res, err := f.dispatcher.Assign(context.Background(), newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)
	assert.True(t, res.Assigned)
}

func TestDispatcherWatchesSessions(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("car", domain.VehicleCar, depot))

	_, err := f.dispatcher.Assign(context.Background(), newRequest("r1", nearby, across, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.dispatcher.reevaluator.Watching())

	_, err = f.dispatcher.CompleteDelivery(context.Background(), "r1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.dispatcher.reevaluator.Watching() == 0 }, time.Second, 5*time.Millisecond)
}

// gatedConditions blocks the first lookup made after arming until released.
type gatedConditions struct {
	snap    domain.ConditionSnapshot
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedConditions() *gatedConditions {
	return &gatedConditions{
		snap:    clearConditions(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedConditions) Snapshot(ctx context.Context, _ domain.GeoPoint) (domain.ConditionSnapshot, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return domain.ConditionSnapshot{}, ctx.Err()
		}
	}
	return g.snap, nil
}

func TestDispatcherRerouteKeepsConcurrentAssignment(t *testing.T) {
	origin := domain.GeoPoint{Lat: 0, Lon: 0}
	cond := newGatedConditions()
	f := newDispatchFixture(t, cond, newCourier("van", domain.VehicleVan, origin))
	ctx := context.Background()

	res, err := f.dispatcher.AssignBatch(ctx, []*domain.DeliveryRequest{
		newRequest("east", domain.GeoPoint{Lat: 0, Lon: 0.10}, domain.GeoPoint{Lat: 0, Lon: 0.11}, 20),
		newRequest("west", domain.GeoPoint{Lat: 0, Lon: -0.10}, domain.GeoPoint{Lat: 0, Lon: -0.11}, 20),
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Assigned)

	// A wasteful order the next tick will want to replace.
	bad := NewRouteOptimizer(DefaultOptimizerConfig()).Evaluate(origin, []domain.StopCandidate{
		pickup("east", 0, 0.10),
		pickup("west", 0, -0.10),
		dropoff("east", 0, 0.11),
		dropoff("west", 0, -0.11),
	})
	require.NoError(t, f.tracker.UpdateRoute("east", bad))
	require.NoError(t, f.tracker.UpdateRoute("west", bad))
	require.NoError(t, f.dispatcher.RecordPosition(ctx, "east", ping(origin, 20)))

	east, ok := f.tracker.Session("east")
	require.True(t, ok)

	cond.armed.Store(true)
	decided := make(chan Decision, 1)
	go func() {
		d, err := f.dispatcher.reevaluator.Tick(ctx, east)
		assert.NoError(t, err)
		decided <- d
	}()
	<-cond.entered

	res, err = f.dispatcher.Assign(ctx, newRequest("third", domain.GeoPoint{Lat: 0.02, Lon: 0}, domain.GeoPoint{Lat: 0.03, Lon: 0}, 1), nil)
	require.NoError(t, err)
	require.True(t, res.Assigned)
	require.Equal(t, "van", res.Courier.ID)

	close(cond.release)
	d := <-decided
	assert.False(t, d.Rerouted, "candidate planned before the assignment must be dropped")

	for _, id := range []string{"east", "west", "third"} {
		s, ok := f.tracker.Session(id)
		require.True(t, ok)
		stops := 0
		for _, st := range s.Snapshot().Route.Stops {
			if st.RequestID == "third" {
				stops++
			}
		}
		assert.Equal(t, 2, stops, "stops for third in the route of %s", id)
	}
}

func TestDispatcherPingReachesEveryDeliveryOfCourier(t *testing.T) {
	f := newDispatchFixture(t, clearProvider(), newCourier("van", domain.VehicleVan, depot))
	ctx := context.Background()

	res, err := f.dispatcher.AssignBatch(ctx, []*domain.DeliveryRequest{
		newRequest("a", nearby, faraway, 5),
		newRequest("b", across, faraway, 5),
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Assigned)

	require.NoError(t, f.dispatcher.RecordPosition(ctx, "a", ping(across, 15)))

	b, ok := f.dispatcher.Request("b")
	require.True(t, ok)
	assert.Equal(t, domain.RequestPickedUp, b.State)

	a, ok := f.dispatcher.Request("a")
	require.True(t, ok)
	assert.Equal(t, domain.RequestAssigned, a.State)

	sb, ok := f.tracker.Session("b")
	require.True(t, ok)
	snap := sb.Snapshot()
	assert.Equal(t, SessionActive, snap.State)
	require.NotNil(t, snap.LastPosition)
	assert.Equal(t, across, snap.LastPosition.Point)
}
