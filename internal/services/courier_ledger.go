package services

import (
	"courier-dispatch-service/internal/domain"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type reservation struct {
	weightKg float64
	volumeM3 float64
}

type ledgerEntry struct {
	mu       sync.Mutex
	courier  *domain.Courier
	reserved map[string]reservation
}

// CourierLedger is the single mutation point for courier load and status.
// Each courier has its own lock, so assigning to one courier never waits on
// another, while a concurrent assign and release on the same courier serialize.
type CourierLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

func NewCourierLedger() *CourierLedger {
	return &CourierLedger{entries: make(map[string]*ledgerEntry)}
}

// Register adds a courier, or replaces its profile while keeping any
// reservations the ledger already tracks.
func (l *CourierLedger) Register(c *domain.Courier) error {
	if c == nil || c.ID == "" {
		return &domain.ValidationError{Field: "courier.id", Reason: "must be non-empty"}
	}
	if _, ok := c.Vehicle.Spec(); !ok {
		return &domain.ValidationError{Field: "courier.vehicle", Reason: fmt.Sprintf("unknown vehicle class %q", c.Vehicle)}
	}
	if err := c.Location.Validate(); err != nil {
		return fmt.Errorf("register courier %s: %w", c.ID, err)
	}

	next := c.Clone()
	if next.Status == "" {
		next.Status = domain.CourierAvailable
	}

	l.mu.Lock()
	e, ok := l.entries[c.ID]
	if !ok {
		l.entries[c.ID] = &ledgerEntry{courier: next, reserved: make(map[string]reservation)}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	next.ActiveRequests = e.courier.ActiveRequests
	next.LoadWeightKg = e.courier.LoadWeightKg
	next.LoadVolumeM3 = e.courier.LoadVolumeM3
	if len(next.ActiveRequests) > 0 && next.Status == domain.CourierAvailable {
		next.Status = domain.CourierBusy
	}
	e.courier = next
	return nil
}

func (l *CourierLedger) entry(id string) (*ledgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("courier %s: %w", id, domain.ErrCourierNotFound)
	}
	return e, nil
}

// update runs fn under the courier's lock and returns a snapshot afterwards.
func (l *CourierLedger) update(id string, fn func(e *ledgerEntry) error) (*domain.Courier, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e); err != nil {
		return nil, err
	}
	return e.courier.Clone(), nil
}

func (l *CourierLedger) Get(id string) (*domain.Courier, error) {
	return l.update(id, func(*ledgerEntry) error { return nil })
}

// Snapshot returns copies of every registered courier ordered by id.
func (l *CourierLedger) Snapshot() []*domain.Courier {
	l.mu.RLock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*domain.Courier, 0, len(ids))
	for _, id := range ids {
		if c, err := l.Get(id); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Reserve attaches reqs to the courier, re-checking capacity under its lock.
func (l *CourierLedger) Reserve(courierID string, reqs ...*domain.DeliveryRequest) (*domain.Courier, error) {
	return l.update(courierID, func(e *ledgerEntry) error {
		c := e.courier
		if c.Status != domain.CourierAvailable && c.Status != domain.CourierBusy {
			return fmt.Errorf("reserve courier %s (%s): %w", c.ID, c.Status, domain.ErrCourierUnavailable)
		}

		spec, _ := c.Vehicle.Spec()
		fresh := make([]*domain.DeliveryRequest, 0, len(reqs))
		weight, volume := c.LoadWeightKg, c.LoadVolumeM3
		for _, r := range reqs {
			if c.HasRequest(r.ID) {
				continue
			}
			fresh = append(fresh, r)
			weight += r.WeightKg
			volume += r.Volume()
		}

		if c.ActiveCount()+len(fresh) > spec.MaxConcurrent {
			return fmt.Errorf("reserve courier %s: %d active of %d: %w", c.ID, c.ActiveCount(), spec.MaxConcurrent, domain.ErrCapacityExceeded)
		}
		if weight > spec.MaxWeightKg || volume > spec.MaxVolumeM3 {
			return fmt.Errorf("reserve courier %s: load %.1fkg/%.3fm3: %w", c.ID, weight, volume, domain.ErrCapacityExceeded)
		}

		for _, r := range fresh {
			c.ActiveRequests = append(c.ActiveRequests, r.ID)
			e.reserved[r.ID] = reservation{weightKg: r.WeightKg, volumeM3: r.Volume()}
		}
		c.LoadWeightKg = weight
		c.LoadVolumeM3 = volume
		if len(c.ActiveRequests) > 0 {
			c.Status = domain.CourierBusy
		}
		return nil
	})
}

// Release detaches a request. delivered counts it towards the courier's
// lifetime total. Releasing an unknown request is a no-op.
func (l *CourierLedger) Release(courierID, requestID string, delivered bool) (*domain.Courier, error) {
	return l.update(courierID, func(e *ledgerEntry) error {
		c := e.courier
		i := slices.Index(c.ActiveRequests, requestID)
		if i < 0 {
			return nil
		}

		c.ActiveRequests = slices.Delete(c.ActiveRequests, i, i+1)
		res := e.reserved[requestID]
		delete(e.reserved, requestID)
		c.LoadWeightKg = trimDrift(c.LoadWeightKg - res.weightKg)
		c.LoadVolumeM3 = trimDrift(c.LoadVolumeM3 - res.volumeM3)

		if delivered {
			c.CompletedDeliveries++
		}
		if len(c.ActiveRequests) == 0 && c.Status == domain.CourierBusy {
			c.Status = domain.CourierAvailable
		}
		return nil
	})
}

func (l *CourierLedger) UpdateLocation(courierID string, p domain.GeoPoint) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("update courier %s location: %w", courierID, err)
	}
	_, err := l.update(courierID, func(e *ledgerEntry) error {
		e.courier.Location = p
		return nil
	})
	return err
}

func (l *CourierLedger) SetStatus(courierID string, status domain.CourierStatus) (*domain.Courier, error) {
	return l.update(courierID, func(e *ledgerEntry) error {
		switch status {
		case domain.CourierAvailable, domain.CourierBusy, domain.CourierOffline, domain.CourierSuspended:
		default:
			return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
		e.courier.Status = status
		return nil
	})
}

// trimDrift clears float drift left after subtracting reservations.
func trimDrift(v float64) float64 {
	if v < 1e-9 {
		return 0
	}
	return v
}
