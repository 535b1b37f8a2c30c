package services

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ReevaluationConfig struct {
	Interval       time.Duration
	RerouteMargin  float64
	DistanceWeight float64
	DurationWeight float64
}

func DefaultReevaluationConfig() ReevaluationConfig {
	return ReevaluationConfig{
		Interval:       5 * time.Minute,
		RerouteMargin:  15,
		DistanceWeight: 2,
		DurationWeight: 1,
	}
}

// Outcome of one re-evaluation tick.
type Decision struct {
	Skipped        bool
	Rerouted       bool
	ActiveScore    float64
	CandidateScore float64
	Candidate      domain.Route
	Conditions     domain.ConditionSnapshot
}

// Reevaluator periodically recomputes each active session's route under
// current conditions and switches when the gain clears a fixed margin.
type Reevaluator struct {
	cfg        ReevaluationConfig
	planner    *RoutePlanner
	conditions ports.ConditionsProvider
	notifier   ports.Notifier
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	watching  map[string]context.CancelFunc
	onReroute func(s *TrackingSession, route domain.Route)
	lockFor   func(courierID string) sync.Locker
}

func NewReevaluator(
	cfg ReevaluationConfig,
	planner *RoutePlanner,
	conditions ports.ConditionsProvider,
	notifier ports.Notifier,
	log *zap.Logger,
) *Reevaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReevaluationConfig().Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reevaluator{
		cfg:        cfg,
		planner:    planner,
		conditions: conditions,
		notifier:   notifier,
		logger:     logger.OrNop(log),
		ctx:        ctx,
		cancel:     cancel,
		watching:   make(map[string]context.CancelFunc),
	}
}

// RouteScore rates a route under conditions; higher is better. Duration is
// penalised harder as the impact score rises.
func (r *Reevaluator) RouteScore(route domain.Route, cond domain.ConditionSnapshot) float64 {
	return 100 -
		r.cfg.DistanceWeight*route.DistanceKm() -
		r.cfg.DurationWeight*route.TotalDuration.Minutes()*(1+cond.ImpactScore)
}

// ShouldReroute is true only when candidate beats active by more than the margin.
func (r *Reevaluator) ShouldReroute(active, candidate float64) bool {
	return candidate > active+r.cfg.RerouteMargin
}

// OnReroute registers fn to run after a session switches routes. fn runs
// while the courier lock from SerializeWith is held.
func (r *Reevaluator) OnReroute(fn func(s *TrackingSession, route domain.Route)) {
	r.mu.Lock()
	r.onReroute = fn
	r.mu.Unlock()
}

// SerializeWith makes every route switch take the lock lockFor returns for
// the session's courier, the same lock other writers of that courier's plan hold.
func (r *Reevaluator) SerializeWith(lockFor func(courierID string) sync.Locker) {
	r.mu.Lock()
	r.lockFor = lockFor
	r.mu.Unlock()
}

// apply swaps candidate into s unless its route moved on since the tick's
// snapshot, then runs the reroute hook under the same courier lock.
func (r *Reevaluator) apply(s *TrackingSession, snap SessionSnapshot, candidate domain.Route) (int, bool) {
	r.mu.Lock()
	hook, lockFor := r.onReroute, r.lockFor
	r.mu.Unlock()

	if lockFor != nil {
		l := lockFor(s.CourierID)
		l.Lock()
		defer l.Unlock()
	}

	count, ok := s.swapRoute(snap.RouteVersion, snap.Progress, candidate)
	if ok && hook != nil {
		hook(s, candidate)
	}
	return count, ok
}

// Watch starts the periodic re-evaluation of s. The watcher exits when ctx
// is cancelled, the session finishes, or Close is called. Watching the same
// session twice is a no-op.
func (r *Reevaluator) Watch(ctx context.Context, s *TrackingSession) {
	r.mu.Lock()
	if _, ok := r.watching[s.ID]; ok || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	r.watching[s.ID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.watching, s.ID)
			r.mu.Unlock()
			cancel()
		}()

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-wctx.Done():
				return
			case <-r.ctx.Done():
				return
			case <-s.Done():
				return
			case <-ticker.C:
				if _, err := r.Tick(wctx, s); err != nil {
					r.logger.Warn("re-evaluation failed",
						zap.String("session_id", s.ID),
						zap.String("request_id", s.RequestID),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Watching reports how many sessions have a live watcher.
func (r *Reevaluator) Watching() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watching)
}

// Unwatch cancels the watcher for one session, if any.
func (r *Reevaluator) Unwatch(sessionID string) {
	r.mu.Lock()
	cancel, ok := r.watching[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Tick runs one re-evaluation of s.
func (r *Reevaluator) Tick(ctx context.Context, s *TrackingSession) (Decision, error) {
	snap := s.Snapshot()
	if snap.State != SessionActive || snap.LastPosition == nil {
		return Decision{Skipped: true}, nil
	}

	remaining := snap.Route.Candidates(snap.Progress)
	if len(remaining) == 0 {
		return Decision{Skipped: true}, nil
	}

	here := snap.LastPosition.Point
	destination := remaining[len(remaining)-1].Location

	atHere, err := r.conditions.Snapshot(ctx, here)
	if err != nil {
		return Decision{}, fmt.Errorf("re-evaluate %s: conditions at position: %w", s.RequestID, err)
	}
	atDest, err := r.conditions.Snapshot(ctx, destination)
	if err != nil {
		return Decision{}, fmt.Errorf("re-evaluate %s: conditions at destination: %w", s.RequestID, err)
	}
	cond := domain.Worse(atHere, atDest)

	candidate, err := r.planner.Plan(ctx, here, remaining)
	if err != nil {
		return Decision{}, fmt.Errorf("re-evaluate %s: candidate: %w", s.RequestID, err)
	}
	active, err := r.planner.Measure(ctx, here, remaining)
	if err != nil {
		return Decision{}, fmt.Errorf("re-evaluate %s: active: %w", s.RequestID, err)
	}

	d := Decision{
		ActiveScore:    r.RouteScore(active, cond),
		CandidateScore: r.RouteScore(candidate, cond),
		Candidate:      candidate,
		Conditions:     cond,
	}
	if !r.ShouldReroute(d.ActiveScore, d.CandidateScore) {
		return d, nil
	}

	// The session may have finished or been replanned while we were planning.
	count, ok := r.apply(s, snap, candidate)
	if !ok {
		r.logger.Debug("stale candidate dropped",
			zap.String("request_id", s.RequestID),
			zap.String("courier_id", s.CourierID),
		)
		return d, nil
	}
	d.Rerouted = true

	r.logger.Info("route switched",
		zap.String("request_id", s.RequestID),
		zap.String("courier_id", s.CourierID),
		zap.Float64("active_score", d.ActiveScore),
		zap.Float64("candidate_score", d.CandidateScore),
		zap.Int("reroute_count", count),
	)

	if r.notifier != nil {
		ev := domain.NewEvent(domain.EventRerouted, s.RequestID, s.CourierID, time.Now(), domain.Reroute{
			Count:          count,
			ActiveScore:    d.ActiveScore,
			CandidateScore: d.CandidateScore,
			DistanceMeters: candidate.TotalDistanceMeters,
		})
		if err := r.notifier.Notify(ctx, ev); err != nil {
			r.logger.Warn("notify failed", zap.String("event", string(ev.Type)), zap.Error(err))
		}
	}
	return d, nil
}

// Close stops every watcher and waits for them to exit.
func (r *Reevaluator) Close() {
	r.cancel()
	r.wg.Wait()
}
