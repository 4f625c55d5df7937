package storage

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Expect is the precondition of a conditional update: the row must still be
// in Status at Version.
type Expect struct {
	Status  models.Status
	Version int
}

// Change describes the columns a transition writes.
type Change struct {
	To          models.Status
	DriverID    *string
	ClearDriver bool
	FinalFare   *models.Money
	CanceledBy  *models.CancelReason
	At          time.Time
}

// Apply writes c onto b and bumps the version.
func (c Change) Apply(b *models.Booking) {
	b.Status = c.To
	b.Version++
	b.UpdatedAt = c.At
	switch {
	case c.ClearDriver:
		b.DriverID = nil
	case c.DriverID != nil:
		id := *c.DriverID
		b.DriverID = &id
	}
	if c.FinalFare != nil {
		f := *c.FinalFare
		b.FinalFare = &f
	}
	if c.CanceledBy != nil {
		r := *c.CanceledBy
		b.CanceledBy = &r
	}
}

// BookingStore persists bookings. Transition is the only mutation and must be
// atomic: it fails with ErrConflict when the precondition no longer holds.
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (models.Booking, error)
	Transition(ctx context.Context, id string, exp Expect, c Change) (models.Booking, error)
	RiderEmail(ctx context.Context, riderID string) (string, error)
}
