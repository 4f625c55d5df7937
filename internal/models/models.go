package models

import (
	"fmt"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Status is the wire-level booking status.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusAssigned   Status = "ASSIGNED"
	StatusEnRoute    Status = "EN_ROUTE"
	StatusArrived    Status = "ARRIVED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

var allStatuses = []Status{
	StatusRequested,
	StatusAssigned,
	StatusEnRoute,
	StatusArrived,
	StatusInProgress,
	StatusCompleted,
	StatusCanceled,
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// HoldsDriver reports whether a booking in status s must carry a driver.
func (s Status) HoldsDriver() bool {
	switch s {
	case StatusAssigned, StatusEnRoute, StatusArrived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

// CancelReason records who initiated a cancellation.
type CancelReason string

const (
	CancelByRider  CancelReason = "RIDER"
	CancelByDriver CancelReason = "DRIVER"
)

func ParseCancelReason(v string) (CancelReason, error) {
	switch r := CancelReason(strings.ToUpper(strings.TrimSpace(v))); r {
	case CancelByRider, CancelByDriver:
		return r, nil
	}
	return "", &ValidationError{Field: "cancelReason", Msg: "must be RIDER or DRIVER"}
}

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}

type Booking struct {
	ID       string  `json:"id"`
	Status   Status  `json:"status"`
	Version  int     `json:"version"`
	RiderID  string  `json:"riderId"`
	DriverID *string `json:"driverId,omitempty"`

	Pickup         *Coord `json:"pickup,omitempty"`
	Dropoff        *Coord `json:"dropoff,omitempty"`
	PickupAddress  string `json:"pickupAddress"`
	DropoffAddress string `json:"dropoffAddress"`

	RequiresWheelchair bool      `json:"requiresWheelchair"`
	ScheduledPickup    time.Time `json:"scheduledPickupTime"`

	PaymentIntentID      *string  `json:"paymentIntentId,omitempty"`
	FareEstimate         *Money   `json:"fareEstimate,omitempty"`
	FinalFare            *Money   `json:"finalFare,omitempty"`
	EstimatedDistanceKm  *float64 `json:"estimatedDistanceKm,omitempty"`
	EstimatedDurationMin *float64 `json:"estimatedDurationMin,omitempty"`

	PinCode    int           `json:"pinCode"`
	CanceledBy *CancelReason `json:"canceledBy,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func (b *Booking) HasDriver() bool { return b.DriverID != nil && *b.DriverID != "" }

// CheckInvariants reports the first structural inconsistency of b.
func (b *Booking) CheckInvariants() error {
	if !b.Status.Valid() {
		return &ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", b.Status)}
	}
	switch {
	case b.Status.HoldsDriver() && !b.HasDriver():
		return &ValidationError{Field: "driverId", Msg: fmt.Sprintf("required in status %s", b.Status)}
	case b.Status == StatusRequested && b.DriverID != nil:
		return &ValidationError{Field: "driverId", Msg: "must be empty while REQUESTED"}
	case b.Status == StatusCanceled && b.HasDriver() && b.CanceledBy != nil && *b.CanceledBy == CancelByDriver:
		return &ValidationError{Field: "driverId", Msg: "must be cleared after a driver cancellation"}
	}
	return nil
}

type Driver struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Online            bool      `json:"online"`
	Loc               *Coord    `json:"loc,omitempty"`
	LocUpdatedAt      time.Time `json:"locUpdatedAt"`
	WheelchairCapable bool      `json:"wheelchairCapable"`
	Rating            *float64  `json:"rating,omitempty"` // 0..5, nil for new drivers
	CommissionRate    float64   `json:"commissionRate,omitempty"`
}

// Candidate is one driver's score for one booking. It is never persisted.
type Candidate struct {
	DriverID        string   `json:"driverId"`
	DistanceKm      float64  `json:"distanceKm"`
	DistanceScore   float64  `json:"distanceScore"`
	RatingScore     float64  `json:"ratingScore"`
	WheelchairBonus float64  `json:"wheelchairBonus"`
	TotalScore      float64  `json:"totalScore"`
	Rating          *float64 `json:"rating,omitempty"`
	WheelchairMatch bool     `json:"wheelchairMatch"`
}
