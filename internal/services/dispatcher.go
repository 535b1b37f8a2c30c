package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/platform/obs"
	"courier-dispatch-service/internal/ports"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

type DispatcherDeps struct {
	Scorer      *Scorer
	Ledger      *CourierLedger
	Planner     *RoutePlanner
	Tracker     *Tracker
	Reevaluator *Reevaluator
	Conditions  ports.ConditionsProvider
	Notifier    ports.Notifier
	Logger      *zap.Logger
}

// Outcome of an assignment. Assigned is false when no courier was eligible;
// that is a normal result, not an error.
type AssignResult struct {
	Assigned bool
	Courier  *domain.Courier
	Score    float64
	Requests []domain.DeliveryRequest
	Route    domain.Route
	Sessions []*TrackingSession
}

// Dispatcher runs the request lifecycle: assignment, courier routing,
// tracking and completion. It keeps its own copies of the requests it has
// accepted and hands copies back to callers.
type Dispatcher struct {
	scorer      *Scorer
	ledger      *CourierLedger
	planner     *RoutePlanner
	tracker     *Tracker
	reevaluator *Reevaluator
	conditions  ports.ConditionsProvider
	notifier    ports.Notifier
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	requests    map[string]*domain.DeliveryRequest
	assignments map[string]string
	byCourier   map[string][]string
	routeLocks  map[string]*sync.Mutex
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		scorer:      deps.Scorer,
		ledger:      deps.Ledger,
		planner:     deps.Planner,
		tracker:     deps.Tracker,
		reevaluator: deps.Reevaluator,
		conditions:  deps.Conditions,
		notifier:    deps.Notifier,
		logger:      logger.OrNop(deps.Logger),
		ctx:         ctx,
		cancel:      cancel,
		requests:    make(map[string]*domain.DeliveryRequest),
		assignments: make(map[string]string),
		byCourier:   make(map[string][]string),
		routeLocks:  make(map[string]*sync.Mutex),
	}
	if d.reevaluator != nil {
		d.reevaluator.OnReroute(d.propagateRoute)
		d.reevaluator.SerializeWith(func(courierID string) sync.Locker { return d.routeLock(courierID) })
	}
	return d
}

// Assign picks a courier for req and starts tracking it.
// candidates nil means every courier registered in the ledger.
func (d *Dispatcher) Assign(ctx context.Context, req *domain.DeliveryRequest, candidates []*domain.Courier) (_ AssignResult, err error) {
	defer obs.Time(ctx, d.logger, "dispatcher.Assign")(&err)

	if err := d.admit(req); err != nil {
		return AssignResult{}, fmt.Errorf("assign: %w", err)
	}

	cond := d.snapshot(ctx, req.Pickup)
	pool := d.pool(candidates)

	for len(pool) > 0 {
		best, score, ok := d.scorer.Best(ctx, pool, req, cond)
		if !ok {
			break
		}

		reserved, err := d.ledger.Reserve(best.ID, req)
		if err != nil {
			if !retryableReserve(err) {
				return AssignResult{}, fmt.Errorf("assign %s: %w", req.ID, err)
			}
			d.logger.Debug("courier lost capacity, trying next", zap.String("courier_id", best.ID), zap.Error(err))
			pool = without(pool, best.ID)
			continue
		}

		return d.commit(ctx, reserved, score, []*domain.DeliveryRequest{req})
	}

	d.logger.Info("no eligible courier", zap.String("request_id", req.ID))
	return AssignResult{}, nil
}

// AssignBatch gives every request in reqs to one courier, chosen on the
// combined route it would drive.
func (d *Dispatcher) AssignBatch(ctx context.Context, reqs []*domain.DeliveryRequest, candidates []*domain.Courier) (_ AssignResult, err error) {
	defer obs.Time(ctx, d.logger, "dispatcher.AssignBatch")(&err)

	if len(reqs) == 0 {
		return AssignResult{}, &domain.ValidationError{Field: "requests", Reason: "batch is empty", Err: domain.ErrInvalidRequest}
	}
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if err := d.admit(r); err != nil {
			return AssignResult{}, fmt.Errorf("assign batch: %w", err)
		}
		if seen[r.ID] {
			return AssignResult{}, &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate request %s in batch", r.ID), Err: domain.ErrInvalidRequest}
		}
		seen[r.ID] = true
	}

	cond := d.snapshot(ctx, reqs[0].Pickup)
	for _, r := range reqs[1:] {
		cond = domain.Worse(cond, d.snapshot(ctx, r.Pickup))
	}
	pool := d.pool(candidates)

	for len(pool) > 0 {
		best, score, ok := d.scorer.BestForBatch(ctx, pool, reqs, cond)
		if !ok {
			break
		}

		reserved, err := d.ledger.Reserve(best.ID, reqs...)
		if err != nil {
			if !retryableReserve(err) {
				return AssignResult{}, fmt.Errorf("assign batch: %w", err)
			}
			pool = without(pool, best.ID)
			continue
		}

		return d.commit(ctx, reserved, score, reqs)
	}

	d.logger.Info("no eligible courier for batch", zap.Int("requests", len(reqs)))
	return AssignResult{}, nil
}

func (d *Dispatcher) admit(req *domain.DeliveryRequest) error {
	if req == nil {
		return &domain.ValidationError{Field: "request", Reason: "is nil", Err: domain.ErrInvalidRequest}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.State != "" && req.State != domain.RequestUnassigned {
		return fmt.Errorf("request %s is %s: %w", req.ID, req.State, domain.ErrInvalidTransition)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.requests[req.ID]; ok {
		return fmt.Errorf("request %s already dispatched: %w", req.ID, domain.ErrInvalidTransition)
	}
	return nil
}

func (d *Dispatcher) pool(candidates []*domain.Courier) []*domain.Courier {
	if candidates == nil {
		return d.ledger.Snapshot()
	}
	return slices.Clone(candidates)
}

func retryableReserve(err error) bool {
	return errors.Is(err, domain.ErrCapacityExceeded) ||
		errors.Is(err, domain.ErrCourierUnavailable) ||
		errors.Is(err, domain.ErrCourierNotFound)
}

func without(pool []*domain.Courier, id string) []*domain.Courier {
	return slices.DeleteFunc(pool, func(c *domain.Courier) bool { return c.ID == id })
}

// snapshot degrades to a default clear snapshot when conditions are unavailable.
func (d *Dispatcher) snapshot(ctx context.Context, at domain.GeoPoint) domain.ConditionSnapshot {
	if d.conditions == nil {
		return domain.DefaultSnapshot(time.Now())
	}
	snap, err := d.conditions.Snapshot(ctx, at)
	if err != nil {
		d.logger.Warn("conditions unavailable, assuming clear", zap.Error(err))
		return domain.DefaultSnapshot(time.Now())
	}
	return snap
}

func (d *Dispatcher) routeLock(courierID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.routeLocks[courierID]
	if !ok {
		l = &sync.Mutex{}
		d.routeLocks[courierID] = l
	}
	return l
}

// commit records the reserved requests, plans the courier's full route and
// opens a tracking session per request. On failure the reservation is undone.
func (d *Dispatcher) commit(ctx context.Context, courier *domain.Courier, score float64, reqs []*domain.DeliveryRequest) (AssignResult, error) {
	lock := d.routeLock(courier.ID)
	lock.Lock()
	defer lock.Unlock()

	copies := make([]*domain.DeliveryRequest, 0, len(reqs))
	for _, r := range reqs {
		cp := *r
		if err := cp.Transition(domain.RequestAssigned); err != nil {
			d.rollback(courier.ID, reqs)
			return AssignResult{}, err
		}
		copies = append(copies, &cp)
	}

	d.mu.Lock()
	for _, cp := range copies {
		d.requests[cp.ID] = cp
		d.assignments[cp.ID] = courier.ID
		d.byCourier[courier.ID] = append(d.byCourier[courier.ID], cp.ID)
	}
	d.mu.Unlock()

	route, err := d.planCourier(ctx, courier.ID)
	if err != nil {
		d.rollback(courier.ID, reqs)
		return AssignResult{}, fmt.Errorf("assign to %s: %w", courier.ID, err)
	}

	result := AssignResult{Assigned: true, Courier: courier, Score: score, Route: route}
	for _, cp := range copies {
		s, err := d.tracker.Start(cp, courier, route)
		if err != nil {
			d.rollback(courier.ID, reqs)
			return AssignResult{}, fmt.Errorf("assign to %s: %w", courier.ID, err)
		}
		if d.reevaluator != nil {
			d.reevaluator.Watch(d.ctx, s)
		}
		result.Sessions = append(result.Sessions, s)
		result.Requests = append(result.Requests, *cp)
	}

	d.pushRoute(courier.ID, route)

	for _, cp := range copies {
		d.logger.Info("request assigned",
			zap.String("request_id", cp.ID),
			zap.String("courier_id", courier.ID),
			zap.Float64("score", score),
		)
		d.emit(ctx, domain.NewEvent(domain.EventAssigned, cp.ID, courier.ID, time.Now(), domain.AssignmentDetail{
			Score:     score,
			StopCount: len(route.Stops),
		}))
	}
	return result, nil
}

func (d *Dispatcher) rollback(courierID string, reqs []*domain.DeliveryRequest) {
	d.mu.Lock()
	for _, r := range reqs {
		if d.assignments[r.ID] == courierID {
			delete(d.requests, r.ID)
			delete(d.assignments, r.ID)
			d.byCourier[courierID] = slices.DeleteFunc(d.byCourier[courierID], func(id string) bool { return id == r.ID })
		}
	}
	d.mu.Unlock()

	for _, r := range reqs {
		_ = d.tracker.Stop(r.ID, "assignment rolled back")
		if _, err := d.ledger.Release(courierID, r.ID, false); err != nil {
			d.logger.Error("release after failed assignment", zap.String("courier_id", courierID), zap.Error(err))
		}
	}
}

// courierStops builds optimizer input from every open request of a courier.
func (d *Dispatcher) courierStops(courierID string) []domain.StopCandidate {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stops []domain.StopCandidate
	for _, id := range d.byCourier[courierID] {
		r := d.requests[id]
		if r.State == domain.RequestAssigned {
			stops = append(stops, domain.StopCandidate{Type: domain.StopPickup, Location: r.Pickup, RequestID: r.ID})
		}
	}
	for _, id := range d.byCourier[courierID] {
		r := d.requests[id]
		stops = append(stops, domain.StopCandidate{
			Type:            domain.StopDropoff,
			Location:        r.Dropoff,
			RequestID:       r.ID,
			PickupCompleted: r.State != domain.RequestAssigned,
		})
	}
	return stops
}

// planCourier must be called with the courier's route lock held.
func (d *Dispatcher) planCourier(ctx context.Context, courierID string) (domain.Route, error) {
	c, err := d.ledger.Get(courierID)
	if err != nil {
		return domain.Route{}, err
	}
	return d.planner.Plan(ctx, c.Location, d.courierStops(courierID))
}

func (d *Dispatcher) pushRoute(courierID string, route domain.Route) {
	for _, s := range d.tracker.SessionsForCourier(courierID) {
		if err := d.tracker.UpdateRoute(s.RequestID, route); err != nil {
			d.logger.Debug("session ended before route update", zap.String("request_id", s.RequestID))
		}
	}
}

// propagateRoute copies a rerouted session's route to the courier's other
// sessions. The reevaluator calls it with the courier's route lock held.
func (d *Dispatcher) propagateRoute(s *TrackingSession, route domain.Route) {
	for _, other := range d.tracker.SessionsForCourier(s.CourierID) {
		if other.ID == s.ID {
			continue
		}
		_ = d.tracker.UpdateRoute(other.RequestID, route)
	}
}

// Request returns a copy of an open request.
func (d *Dispatcher) Request(id string) (domain.DeliveryRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.requests[id]
	if !ok {
		return domain.DeliveryRequest{}, false
	}
	return *r, true
}

// Advance moves an open request to a non-terminal state such as picked_up.
func (d *Dispatcher) Advance(ctx context.Context, requestID string, next domain.RequestState) error {
	if next.Terminal() {
		return fmt.Errorf("advance %s to %s: use CompleteDelivery or FailDelivery: %w", requestID, next, domain.ErrInvalidTransition)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.requests[requestID]
	if !ok {
		return fmt.Errorf("advance %s: %w", requestID, domain.ErrSessionNotFound)
	}
	return r.Transition(next)
}

// RecordPosition feeds a courier ping into tracking for requestID and for
// every other delivery the same courier carries, and keeps the ledger's
// courier location current. Reaching a pickup fence marks that request picked up.
func (d *Dispatcher) RecordPosition(ctx context.Context, requestID string, pos domain.Position) error {
	res, err := d.tracker.Ingest(ctx, requestID, pos)
	if err != nil {
		return err
	}
	d.applyArrivals(ctx, requestID, res.Arrivals)

	d.mu.Lock()
	courierID := d.assignments[requestID]
	d.mu.Unlock()
	if courierID == "" {
		return nil
	}

	if err := d.ledger.UpdateLocation(courierID, pos.Point); err != nil {
		d.logger.Warn("courier location not updated", zap.String("courier_id", courierID), zap.Error(err))
	}

	for _, s := range d.tracker.SessionsForCourier(courierID) {
		if s.RequestID == requestID {
			continue
		}
		res, err := d.tracker.Ingest(ctx, s.RequestID, pos)
		if err != nil {
			if !errors.Is(err, domain.ErrSessionNotFound) {
				d.logger.Warn("position not applied to sibling delivery",
					zap.String("request_id", s.RequestID),
					zap.String("courier_id", courierID),
					zap.Error(err),
				)
			}
			continue
		}
		d.applyArrivals(ctx, s.RequestID, res.Arrivals)
	}
	return nil
}

func (d *Dispatcher) applyArrivals(ctx context.Context, requestID string, arrivals []domain.GeofenceArrival) {
	for _, a := range arrivals {
		if a.Kind != domain.GeofencePickup {
			continue
		}
		if err := d.Advance(ctx, requestID, domain.RequestPickedUp); err != nil {
			d.logger.Debug("pickup arrival not applied", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}

// CompleteDelivery closes a delivered request and frees the courier's capacity.
func (d *Dispatcher) CompleteDelivery(ctx context.Context, requestID string) (domain.DeliveryRequest, error) {
	return d.finish(ctx, requestID, domain.RequestDelivered, "")
}

// FailDelivery closes a request that could not be delivered.
func (d *Dispatcher) FailDelivery(ctx context.Context, requestID, reason string) (domain.DeliveryRequest, error) {
	return d.finish(ctx, requestID, domain.RequestFailed, reason)
}

func (d *Dispatcher) finish(ctx context.Context, requestID string, final domain.RequestState, reason string) (_ domain.DeliveryRequest, err error) {
	defer obs.Time(ctx, d.logger, "dispatcher.finish")(&err)

	d.mu.Lock()
	courierID, ok := d.assignments[requestID]
	d.mu.Unlock()
	if !ok {
		return domain.DeliveryRequest{}, fmt.Errorf("finish %s: %w", requestID, domain.ErrSessionNotFound)
	}

	lock := d.routeLock(courierID)
	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	r, ok := d.requests[requestID]
	if !ok {
		d.mu.Unlock()
		return domain.DeliveryRequest{}, fmt.Errorf("finish %s: %w", requestID, domain.ErrSessionNotFound)
	}
	if final == domain.RequestDelivered && r.State == domain.RequestAssigned {
		// Delivery confirmed without a pickup arrival on record.
		_ = r.Transition(domain.RequestPickedUp)
	}
	if err := r.Transition(final); err != nil {
		d.mu.Unlock()
		return domain.DeliveryRequest{}, err
	}
	out := *r
	delete(d.requests, requestID)
	delete(d.assignments, requestID)
	d.byCourier[courierID] = slices.DeleteFunc(d.byCourier[courierID], func(id string) bool { return id == requestID })
	d.mu.Unlock()

	if final == domain.RequestDelivered {
		err = d.tracker.Complete(requestID)
	} else {
		err = d.tracker.Stop(requestID, reason)
	}
	if err != nil {
		d.logger.Warn("tracking session already closed", zap.String("request_id", requestID), zap.Error(err))
	}

	if _, err := d.ledger.Release(courierID, requestID, final == domain.RequestDelivered); err != nil {
		return out, fmt.Errorf("finish %s: release courier: %w", requestID, err)
	}

	if len(d.tracker.SessionsForCourier(courierID)) > 0 {
		route, err := d.planCourier(ctx, courierID)
		if err != nil {
			d.logger.Warn("replan after finish failed", zap.String("courier_id", courierID), zap.Error(err))
		} else {
			d.pushRoute(courierID, route)
		}
	}

	return out, nil
}

// Shutdown stops every re-evaluation watcher.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	if d.reevaluator != nil {
		d.reevaluator.Close()
	}
}

func (d *Dispatcher) emit(ctx context.Context, ev domain.Event) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.Warn("notify failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
