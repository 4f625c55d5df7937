package lifecycle

import (
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// allowedTransitions is the booking state graph. COMPLETED and CANCELED have
// no outgoing edges.
var allowedTransitions = map[models.Status][]models.Status{
	models.StatusRequested:  {models.StatusAssigned, models.StatusCanceled},
	models.StatusAssigned:   {models.StatusEnRoute, models.StatusCanceled},
	models.StatusEnRoute:    {models.StatusArrived, models.StatusCanceled},
	models.StatusArrived:    {models.StatusInProgress, models.StatusCanceled},
	models.StatusInProgress: {models.StatusCompleted},
}

func CanTransition(from, to models.Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the forward successor of s along the happy path.
func Next(s models.Status) (models.Status, bool) {
	switch s {
	case models.StatusRequested:
		return models.StatusAssigned, true
	case models.StatusAssigned:
		return models.StatusEnRoute, true
	case models.StatusEnRoute:
		return models.StatusArrived, true
	case models.StatusArrived:
		return models.StatusInProgress, true
	case models.StatusInProgress:
		return models.StatusCompleted, true
	}
	return "", false
}

type EventKind string

const (
	EventAssign   EventKind = "assign"
	EventAdvance  EventKind = "advance"
	EventCancel   EventKind = "cancel"
	EventComplete EventKind = "complete"
)

// Event is a status-changing command against one booking.
type Event struct {
	Kind EventKind
	// DriverID is the driver being assigned, or for a driver cancellation the
	// acting driver (optional).
	DriverID  string
	Reason    models.CancelReason
	FinalFare *models.Money
}

type EffectKind string

const (
	EffectNotify     EffectKind = "notify"
	EffectRefund     EffectKind = "refund"
	EffectAccounting EffectKind = "accounting"
	EffectReceipt    EffectKind = "receipt"
)

// Effect is a side effect to run after the transition commits.
type Effect struct {
	Kind         EffectKind
	Notification *models.Notification
	Refund       *models.RefundRequest
	Fare         *models.Money
}

// Transition is the outcome of planning an event: what to write and what to
// trigger once the write succeeds.
type Transition struct {
	From    models.Status
	To      models.Status
	Change  storage.Change
	Effects []Effect
}

type PlanOptions struct {
	Now          time.Time
	SendReceipts bool
	// Currency is used for a zero fare when nothing else is known.
	Currency string
}

// Plan validates ev against b and computes the transition. It performs no I/O.
func Plan(b models.Booking, ev Event, opts PlanOptions) (Transition, error) {
	if b.Status.Terminal() {
		return Transition{}, invalid(b.Status, ev.Kind)
	}
	switch ev.Kind {
	case EventAssign:
		return planAssign(b, ev, opts)
	case EventAdvance:
		if b.Status == models.StatusInProgress {
			return planComplete(b, ev, opts)
		}
		return planAdvance(b, opts)
	case EventCancel:
		return planCancel(b, ev, opts)
	case EventComplete:
		return planComplete(b, ev, opts)
	}
	return Transition{}, &models.ValidationError{Field: "event", Msg: fmt.Sprintf("unknown event %q", ev.Kind)}
}

func planAssign(b models.Booking, ev Event, opts PlanOptions) (Transition, error) {
	if ev.DriverID == "" {
		return Transition{}, &models.ValidationError{Field: "driverId", Msg: "required to assign"}
	}
	if b.Status != models.StatusRequested {
		return Transition{}, invalid(b.Status, ev.Kind)
	}
	driverID := ev.DriverID
	t := newTransition(b, storage.Change{To: models.StatusAssigned, DriverID: &driverID, At: opts.Now})
	t.notify(models.DriverChannel(driverID), models.EventAssigned, b.ID, &driverID)
	t.notifyParties(b, &driverID)
	return t, nil
}

func planAdvance(b models.Booking, opts PlanOptions) (Transition, error) {
	to, ok := Next(b.Status)
	if !ok || b.Status == models.StatusRequested {
		// leaving REQUESTED needs a driver
		return Transition{}, invalid(b.Status, EventAdvance)
	}
	t := newTransition(b, storage.Change{To: to, At: opts.Now})
	t.notifyParties(b, b.DriverID)
	return t, nil
}

func planCancel(b models.Booking, ev Event, opts PlanOptions) (Transition, error) {
	if !CanTransition(b.Status, models.StatusCanceled) {
		return Transition{}, invalid(b.Status, ev.Kind)
	}
	reason := ev.Reason
	switch reason {
	case models.CancelByRider:
		t := newTransition(b, storage.Change{To: models.StatusCanceled, CanceledBy: &reason, At: opts.Now})
		if refundable(b.Status) && b.PaymentIntentID != nil {
			t.Effects = append(t.Effects, Effect{Kind: EffectRefund, Refund: &models.RefundRequest{
				BookingID:        b.ID,
				PaymentReference: *b.PaymentIntentID,
				Amount:           firstMoney(b.FinalFare, b.FareEstimate),
			}})
		}
		if b.HasDriver() {
			t.notify(models.DriverChannel(*b.DriverID), models.EventBookingUpdated, b.ID, b.DriverID)
		}
		t.notifyParties(b, b.DriverID)
		return t, nil

	case models.CancelByDriver:
		if !b.HasDriver() {
			return Transition{}, fmt.Errorf("%w: no driver to cancel from %s", models.ErrInvalidTransition, b.Status)
		}
		if ev.DriverID != "" && ev.DriverID != *b.DriverID {
			return Transition{}, &models.ValidationError{Field: "driverId", Msg: "driver is not assigned to this booking"}
		}
		t := newTransition(b, storage.Change{To: models.StatusCanceled, ClearDriver: true, CanceledBy: &reason, At: opts.Now})
		t.notifyParties(b, nil)
		return t, nil
	}
	return Transition{}, &models.ValidationError{Field: "cancelReason", Msg: "must be RIDER or DRIVER"}
}

func planComplete(b models.Booking, ev Event, opts PlanOptions) (Transition, error) {
	if b.Status != models.StatusInProgress {
		return Transition{}, invalid(b.Status, EventComplete)
	}
	if ev.FinalFare != nil && ev.FinalFare.Amount < 0 {
		return Transition{}, &models.ValidationError{Field: "finalFare", Msg: "must not be negative"}
	}
	fare := models.Money{Currency: opts.Currency}
	if f := firstMoney(ev.FinalFare, b.FinalFare, b.FareEstimate); f != nil {
		fare = *f
	}
	t := newTransition(b, storage.Change{To: models.StatusCompleted, FinalFare: &fare, At: opts.Now})
	t.Effects = append(t.Effects, Effect{Kind: EffectAccounting, Fare: &fare})
	if opts.SendReceipts {
		t.Effects = append(t.Effects, Effect{Kind: EffectReceipt, Fare: &fare})
	}
	t.notifyParties(b, b.DriverID)
	return t, nil
}

// refundable reports whether a rider cancellation from s still qualifies for
// a refund: the driver has not yet set off.
func refundable(s models.Status) bool {
	return s == models.StatusRequested || s == models.StatusAssigned
}

func newTransition(b models.Booking, c storage.Change) Transition {
	return Transition{From: b.Status, To: c.To, Change: c}
}

func (t *Transition) notify(channel, event, bookingID string, driverID *string) {
	t.Effects = append(t.Effects, Effect{Kind: EffectNotify, Notification: &models.Notification{
		Channel:   channel,
		Event:     event,
		BookingID: bookingID,
		Status:    t.To,
		DriverID:  driverID,
	}})
}

// notifyParties sends booking_updated to the rider, the booking and dispatch.
func (t *Transition) notifyParties(b models.Booking, driverID *string) {
	for _, ch := range []string{models.RiderChannel(b.RiderID), models.BookingChannel(b.ID), models.DispatchChannel} {
		t.notify(ch, models.EventBookingUpdated, b.ID, driverID)
	}
}

func firstMoney(ms ...*models.Money) *models.Money {
	for _, m := range ms {
		if m != nil {
			v := *m
			return &v
		}
	}
	return nil
}

func invalid(from models.Status, kind EventKind) error {
	return fmt.Errorf("%w: cannot %s a %s booking", models.ErrInvalidTransition, kind, from)
}
