// Package storage persists ride records. The store is the single source of
// truth for lifecycle state; all conditional transitions happen here so that
// racing processes resolve at the storage layer, not with process locks.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// RideStore defines persistence operations for rides. Every mutating call is
// a conditional update: it succeeds only from the expected current status and
// reports a Conflict otherwise.
type RideStore interface {
	// Create persists a new ride. A duplicate id returns the existing
	// record rather than an error, so client retries stay idempotent.
	Create(ctx context.Context, r *models.Ride) (*models.Ride, error)
	Get(ctx context.Context, id string) (*models.Ride, error)

	// Accept transitions pending→accepted and binds the driver in one
	// atomic operation. Exactly one concurrent caller wins; the rest see
	// a Conflict.
	Accept(ctx context.Context, rideID, driverID, driverName string, at time.Time) (*models.Ride, error)

	// Transition moves the ride from→to, failing with Conflict when the
	// current status differs from from.
	Transition(ctx context.Context, rideID string, from, to models.RideStatus) (*models.Ride, error)

	// Complete transitions started→completed and records the settlement
	// actuals in the same conditional update.
	Complete(ctx context.Context, rideID string, distanceKm float64, fare int64, at time.Time) (*models.Ride, error)

	// Cancel transitions pending|accepted→cancelled.
	Cancel(ctx context.Context, rideID, reason string) (*models.Ride, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Ride) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rides[r.ID]; ok {
		out := *existing
		return &out, nil
	}
	cp := *r
	m.rides[r.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, faults.NotFound("ride", id)
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) Accept(ctx context.Context, rideID, driverID, driverName string, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.NotFound("ride", rideID)
	}
	if !r.Status.Dispatchable() {
		return nil, faults.Conflict("ride no longer available")
	}
	r.Status = models.StatusAccepted
	r.DriverID = driverID
	r.DriverName = driverName
	r.AcceptedAt = at
	out := *r
	return &out, nil
}

func (m *MemoryStore) Transition(ctx context.Context, rideID string, from, to models.RideStatus) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.NotFound("ride", rideID)
	}
	if r.Status.Canonical() != from.Canonical() || !models.CanTransition(from, to) {
		return nil, faults.Conflict("illegal transition " + string(r.Status) + "→" + string(to))
	}
	r.Status = to
	out := *r
	return &out, nil
}

func (m *MemoryStore) Complete(ctx context.Context, rideID string, distanceKm float64, fare int64, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.NotFound("ride", rideID)
	}
	if r.Status != models.StatusStarted {
		return nil, faults.Conflict("ride not in progress")
	}
	r.Status = models.StatusCompleted
	r.ActualDistanceKm = distanceKm
	r.ActualFare = fare
	r.CompletedAt = at
	out := *r
	return &out, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, rideID, reason string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, faults.NotFound("ride", rideID)
	}
	if !models.CanTransition(r.Status, models.StatusCancelled) {
		return nil, faults.Conflict("ride cannot be cancelled from " + string(r.Status))
	}
	r.Status = models.StatusCancelled
	r.CancelReason = reason
	out := *r
	return &out, nil
}
