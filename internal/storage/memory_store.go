package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
	emails   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]models.Booking),
		emails:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bookings[b.ID]; exists {
		return fmt.Errorf("booking %s: %w", b.ID, models.ErrConflict)
	}
	m.bookings[b.ID] = clone(*b)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, &models.NotFoundError{Resource: "booking", ID: id}
	}
	return clone(b), nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, exp Expect, c Change) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, &models.NotFoundError{Resource: "booking", ID: id}
	}
	if b.Status != exp.Status || b.Version != exp.Version {
		return models.Booking{}, fmt.Errorf("booking %s is %s v%d, expected %s v%d: %w",
			id, b.Status, b.Version, exp.Status, exp.Version, models.ErrConflict)
	}
	c.Apply(&b)
	m.bookings[id] = b
	return clone(b), nil
}

func (m *MemoryStore) SetRiderEmail(riderID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[riderID] = email
}

func (m *MemoryStore) RiderEmail(_ context.Context, riderID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.emails[riderID]
	if !ok {
		return "", &models.NotFoundError{Resource: "rider", ID: riderID}
	}
	return e, nil
}

// clone detaches pointer fields so callers cannot mutate stored state.
func clone(b models.Booking) models.Booking {
	out := b
	if b.DriverID != nil {
		v := *b.DriverID
		out.DriverID = &v
	}
	if b.Pickup != nil {
		v := *b.Pickup
		out.Pickup = &v
	}
	if b.Dropoff != nil {
		v := *b.Dropoff
		out.Dropoff = &v
	}
	if b.PaymentIntentID != nil {
		v := *b.PaymentIntentID
		out.PaymentIntentID = &v
	}
	if b.FareEstimate != nil {
		v := *b.FareEstimate
		out.FareEstimate = &v
	}
	if b.FinalFare != nil {
		v := *b.FinalFare
		out.FinalFare = &v
	}
	if b.EstimatedDistanceKm != nil {
		v := *b.EstimatedDistanceKm
		out.EstimatedDistanceKm = &v
	}
	if b.EstimatedDurationMin != nil {
		v := *b.EstimatedDurationMin
		out.EstimatedDurationMin = &v
	}
	if b.CanceledBy != nil {
		v := *b.CanceledBy
		out.CanceledBy = &v
	}
	return out
}
