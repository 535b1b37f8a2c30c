package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TrackingConfig struct {
	PickupRadiusMeters  float64
	DropoffRadiusMeters float64
	MinMotionKmh        float64
	DefaultSpeedKmh     float64
	MaxSpeedKmh         float64
	SpeedWindow         int
	HistorySize         int
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		PickupRadiusMeters:  100,
		DropoffRadiusMeters: 100,
		MinMotionKmh:        5,
		DefaultSpeedKmh:     30,
		MaxSpeedKmh:         60,
		SpeedWindow:         5,
		HistorySize:         50,
	}
}

type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
	SessionStopped   SessionState = "stopped"
)

func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionStopped
}

// TrackingSession follows one delivery request from assignment to delivery.
// All mutation happens under mu, which serializes ingestion per session.
type TrackingSession struct {
	ID        string
	RequestID string
	CourierID string
	StartedAt time.Time

	vehicle domain.VehicleClass

	mu           sync.Mutex
	state        SessionState
	route        domain.Route
	routeVersion uint64
	progress     int
	lastPosition *domain.Position
	geofences    [2]domain.Geofence
	rerouteCount int
	history      []domain.Position
	speeds       []float64
	done         chan struct{}
}

// Read-only copy of a session's state.
type SessionSnapshot struct {
	ID           string              `json:"id"`
	RequestID    string              `json:"request_id"`
	CourierID    string              `json:"courier_id"`
	State        SessionState        `json:"state"`
	Route        domain.Route        `json:"route"`
	RouteVersion uint64              `json:"route_version"`
	Progress     int                 `json:"progress"`
	LastPosition *domain.Position    `json:"last_position,omitempty"`
	Geofences    []domain.Geofence   `json:"geofences"`
	RerouteCount int                 `json:"reroute_count"`
	History      []domain.Position   `json:"history"`
	Vehicle      domain.VehicleClass `json:"vehicle"`
}

// Done is closed once the session reaches a terminal state.
func (s *TrackingSession) Done() <-chan struct{} { return s.done }

func (s *TrackingSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{
		ID:           s.ID,
		RequestID:    s.RequestID,
		CourierID:    s.CourierID,
		State:        s.state,
		Route:        s.route,
		RouteVersion: s.routeVersion,
		Progress:     s.progress,
		Geofences:    []domain.Geofence{s.geofences[0], s.geofences[1]},
		RerouteCount: s.rerouteCount,
		History:      append([]domain.Position(nil), s.history...),
		Vehicle:      s.vehicle,
	}
	snap.Route.Stops = append([]domain.RouteStop(nil), s.route.Stops...)
	if s.lastPosition != nil {
		p := *s.lastPosition
		snap.LastPosition = &p
	}
	return snap
}

// replaceRoute installs a replanned route if the session is still live.
func (s *TrackingSession) replaceRoute(route domain.Route) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.route = route
	s.routeVersion++
	s.progress = 0
	return true
}

// swapRoute is a reroute that only applies if the session still holds the
// route version and progress the candidate was planned from.
func (s *TrackingSession) swapRoute(version uint64, progress int, route domain.Route) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive || s.routeVersion != version || s.progress != progress {
		return s.rerouteCount, false
	}

	s.route = route
	s.routeVersion++
	s.progress = 0
	s.rerouteCount++
	return s.rerouteCount, true
}

// terminate moves the session to a terminal state exactly once.
func (s *TrackingSession) terminate(state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = state
	close(s.done)
	return true
}

type IngestResult struct {
	Arrivals []domain.GeofenceArrival `json:"arrivals"`
	ETA      domain.ETA               `json:"eta"`
}

// Tracker owns live tracking sessions, one per delivery request.
type Tracker struct {
	cfg      TrackingConfig
	notifier ports.Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*TrackingSession
}

func NewTracker(cfg TrackingConfig, notifier ports.Notifier, log *zap.Logger) *Tracker {
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	return &Tracker{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.OrNop(log),
		now:      time.Now,
		sessions: make(map[string]*TrackingSession),
	}
}

// Start opens a session for req carried by courier along route.
// Starting an already tracked request returns the existing session.
func (t *Tracker) Start(req *domain.DeliveryRequest, courier *domain.Courier, route domain.Route) (*TrackingSession, error) {
	if req == nil || courier == nil {
		return nil, &domain.ValidationError{Field: "session", Reason: "request and courier are required"}
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("start tracking: %w", err)
	}

	now := t.now()
	s := &TrackingSession{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		CourierID: courier.ID,
		StartedAt: now,
		vehicle:   courier.Vehicle,
		state:     SessionCreated,
		route:     route,
		geofences: [2]domain.Geofence{
			{Kind: domain.GeofencePickup, Center: req.Pickup, RadiusMeters: t.cfg.PickupRadiusMeters},
			{Kind: domain.GeofenceDropoff, Center: req.Dropoff, RadiusMeters: t.cfg.DropoffRadiusMeters},
		},
		done: make(chan struct{}),
	}
	if req.State == domain.RequestPickedUp || req.State == domain.RequestInTransit {
		s.geofences[0].Triggered = true
		s.geofences[0].TriggeredAt = now
	}

	t.mu.Lock()
	if existing, ok := t.sessions[req.ID]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.sessions[req.ID] = s
	t.mu.Unlock()

	t.logger.Info("tracking started",
		zap.String("session_id", s.ID),
		zap.String("request_id", req.ID),
		zap.String("courier_id", courier.ID),
	)
	t.emit(context.Background(), domain.NewEvent(domain.EventTrackingStarted, req.ID, courier.ID, now, nil))
	return s, nil
}

// Session returns the live session for a request.
func (t *Tracker) Session(requestID string) (*TrackingSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[requestID]
	return s, ok
}

// SessionsForCourier lists live sessions for a courier.
func (t *Tracker) SessionsForCourier(courierID string) []*TrackingSession {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*TrackingSession
	for _, s := range t.sessions {
		if s.CourierID == courierID {
			out = append(out, s)
		}
	}
	return out
}

// UpdateRoute replaces the route of a live session without counting a reroute.
func (t *Tracker) UpdateRoute(requestID string, route domain.Route) error {
	s, ok := t.Session(requestID)
	if !ok {
		return fmt.Errorf("update route %s: %w", requestID, domain.ErrSessionNotFound)
	}
	if !s.replaceRoute(route) {
		return fmt.Errorf("update route %s: %w", requestID, domain.ErrSessionNotFound)
	}
	return nil
}

// Ingest applies one position ping. Unknown and finished sessions report
// ErrSessionNotFound and change nothing.
func (t *Tracker) Ingest(ctx context.Context, requestID string, pos domain.Position) (IngestResult, error) {
	s, ok := t.Session(requestID)
	if !ok {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", requestID, domain.ErrSessionNotFound)
	}
	if err := pos.Point.Validate(); err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", requestID, err)
	}
	if pos.RecordedAt.IsZero() {
		pos.RecordedAt = t.now()
	}

	var events []domain.Event

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return IngestResult{}, fmt.Errorf("ingest %s: %w", requestID, domain.ErrSessionNotFound)
	}
	if s.state == SessionCreated {
		s.state = SessionActive
	}

	p := pos
	s.lastPosition = &p
	s.history = appendBounded(s.history, pos, t.cfg.HistorySize)
	if pos.SpeedKmh > t.cfg.MinMotionKmh {
		s.speeds = appendBounded(s.speeds, pos.SpeedKmh, t.cfg.SpeedWindow)
	}

	var result IngestResult
	for i := range s.geofences {
		g := &s.geofences[i]
		if g.Triggered || !g.Contains(pos.Point) {
			continue
		}

		g.Triggered = true
		g.TriggeredAt = pos.RecordedAt
		arrival := domain.GeofenceArrival{
			Kind:     g.Kind,
			Position: pos.Point,
			Distance: domain.Haversine(g.Center, pos.Point),
		}
		result.Arrivals = append(result.Arrivals, arrival)
		events = append(events, domain.NewEvent(domain.EventGeofenceArrived, s.RequestID, s.CourierID, pos.RecordedAt, arrival))
		// Route progress never skips this request's pending pickup.
		if g.Kind == domain.GeofencePickup || s.geofences[0].Triggered {
			s.advancePast(stopTypeFor(g.Kind))
		}
	}
	s.advanceWithin(pos.Point, t.cfg)

	result.ETA = t.eta(s, pos)
	events = append(events, domain.NewEvent(domain.EventETAUpdated, s.RequestID, s.CourierID, pos.RecordedAt, result.ETA))
	s.mu.Unlock()

	for _, ev := range events {
		t.emit(ctx, ev)
	}
	return result, nil
}

func stopTypeFor(k domain.GeofenceKind) domain.StopType {
	if k == domain.GeofencePickup {
		return domain.StopPickup
	}
	return domain.StopDropoff
}

// advancePast moves progress beyond this request's stop of type t.
func (s *TrackingSession) advancePast(t domain.StopType) {
	for i := s.progress; i < len(s.route.Stops); i++ {
		st := s.route.Stops[i]
		if st.RequestID == s.RequestID && st.Type == t {
			s.progress = i + 1
			return
		}
	}
}

// advanceWithin skips stops the courier is currently standing at.
func (s *TrackingSession) advanceWithin(p domain.GeoPoint, cfg TrackingConfig) {
	for s.progress < len(s.route.Stops) {
		st := s.route.Stops[s.progress]
		radius := cfg.DropoffRadiusMeters
		if st.Type == domain.StopPickup {
			radius = cfg.PickupRadiusMeters
		}
		if domain.Haversine(p, st.Location) > radius {
			return
		}
		s.progress++
	}
}

// eta must be called with s.mu held.
func (t *Tracker) eta(s *TrackingSession, pos domain.Position) domain.ETA {
	target := domain.StopDropoff
	fence := s.geofences[1]
	if !s.geofences[0].Triggered && !s.geofences[1].Triggered {
		target = domain.StopPickup
		fence = s.geofences[0]
	}

	speed := t.speed(s, pos)
	eta := domain.ETA{Target: target, SpeedKmh: speed, EstimatedArrival: pos.RecordedAt}
	if fence.Triggered {
		return eta
	}

	remaining := -1.0
	prev := pos.Point
	acc := 0.0
	for i := s.progress; i < len(s.route.Stops); i++ {
		st := s.route.Stops[i]
		acc += domain.Haversine(prev, st.Location)
		prev = st.Location
		if st.RequestID == s.RequestID && st.Type == target {
			remaining = acc
			break
		}
	}
	if remaining < 0 {
		remaining = domain.Haversine(pos.Point, fence.Center)
	}

	eta.RemainingMeters = remaining
	eta.Remaining = time.Duration(remaining / 1000 / speed * float64(time.Hour))
	eta.EstimatedArrival = pos.RecordedAt.Add(eta.Remaining)
	return eta
}

func (t *Tracker) speed(s *TrackingSession, pos domain.Position) float64 {
	speed := t.cfg.DefaultSpeedKmh
	switch {
	case pos.SpeedKmh > t.cfg.MinMotionKmh:
		speed = pos.SpeedKmh
	case len(s.speeds) > 0:
		sum := 0.0
		for _, v := range s.speeds {
			sum += v
		}
		speed = sum / float64(len(s.speeds))
	default:
		if spec, ok := s.vehicle.Spec(); ok {
			speed = spec.AvgSpeedKmh
		}
	}
	if speed > t.cfg.MaxSpeedKmh {
		speed = t.cfg.MaxSpeedKmh
	}
	if speed <= 0 {
		speed = t.cfg.DefaultSpeedKmh
	}
	return speed
}

// Complete ends a session after delivery confirmation.
func (t *Tracker) Complete(requestID string) error {
	return t.finish(requestID, SessionCompleted, domain.EventDeliveryCompleted, "")
}

// Stop cancels a session abnormally.
func (t *Tracker) Stop(requestID, reason string) error {
	return t.finish(requestID, SessionStopped, domain.EventTrackingStopped, reason)
}

func (t *Tracker) finish(requestID string, state SessionState, evType domain.EventType, reason string) error {
	t.mu.Lock()
	s, ok := t.sessions[requestID]
	if ok {
		delete(t.sessions, requestID)
	}
	t.mu.Unlock()

	if !ok || !s.terminate(state) {
		return fmt.Errorf("finish %s: %w", requestID, domain.ErrSessionNotFound)
	}

	t.logger.Info("tracking finished",
		zap.String("session_id", s.ID),
		zap.String("request_id", requestID),
		zap.String("state", string(state)),
		zap.String("reason", reason),
	)

	var data any
	if reason != "" {
		data = map[string]string{"reason": reason}
	}
	t.emit(context.Background(), domain.NewEvent(evType, requestID, s.CourierID, t.now(), data))
	return nil
}

func (t *Tracker) emit(ctx context.Context, ev domain.Event) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, ev); err != nil {
		t.logger.Warn("notify failed",
			zap.String("event", string(ev.Type)),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = append(s[:0], s[len(s)-limit:]...)
	}
	return s
}
