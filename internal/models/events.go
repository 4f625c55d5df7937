package models

import "time"

// Notification events.
const (
	EventBookingCreated = "booking_created"
	EventBookingUpdated = "booking_updated"
	EventAssigned       = "assigned"
)

const DispatchChannel = "dispatch"

func BookingChannel(id string) string { return "booking:" + id }
func RiderChannel(id string) string   { return "rider:" + id }
func DriverChannel(id string) string  { return "driver:" + id }

type Notification struct {
	Channel   string  `json:"channel"`
	Event     string  `json:"event"`
	BookingID string  `json:"bookingId"`
	Status    Status  `json:"status"`
	DriverID  *string `json:"driverId,omitempty"`
}

type RefundRequest struct {
	BookingID        string `json:"bookingId"`
	PaymentReference string `json:"paymentReference"`
	Amount           *Money `json:"amount,omitempty"`
}

type RefundStatus string

const (
	RefundApplied RefundStatus = "applied"
	RefundSkipped RefundStatus = "skipped"
	RefundFailed  RefundStatus = "failed"
)

type RefundOutcome struct {
	Status   RefundStatus `json:"status"`
	RefundID string       `json:"refundId,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// AccountingRecord is the earnings entry pushed when a ride completes.
type AccountingRecord struct {
	BookingID      string    `json:"bookingId"`
	DriverID       string    `json:"driverId"`
	RiderID        string    `json:"riderId"`
	Fare           Money     `json:"fare"`
	CommissionRate float64   `json:"commissionRate"`
	Commission     Money     `json:"commission"`
	DriverNet      Money     `json:"driverNet"`
	CompletedAt    time.Time `json:"completedAt"`
}

type Receipt struct {
	RiderEmail  string    `json:"riderEmail"`
	BookingID   string    `json:"bookingId"`
	Fare        Money     `json:"fare"`
	Pickup      string    `json:"pickup"`
	Dropoff     string    `json:"dropoff"`
	DistanceKm  *float64  `json:"distanceKm,omitempty"`
	DurationMin *float64  `json:"durationMin,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}
