package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Store interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (models.Booking, error)
	Transition(ctx context.Context, id string, exp storage.Expect, c storage.Change) (models.Booking, error)
}

type RiderDirectory interface {
	RiderEmail(ctx context.Context, riderID string) (string, error)
}

type DriverLookup interface {
	Get(ctx context.Context, id string) (models.Driver, error)
}

type Notifier interface {
	Publish(ctx context.Context, n models.Notification) error
}

type Refunder interface {
	Refund(ctx context.Context, req models.RefundRequest) models.RefundOutcome
}

type Ledger interface {
	Record(ctx context.Context, rec models.AccountingRecord) error
}

type ReceiptSender interface {
	Send(ctx context.Context, r models.Receipt) error
}

// Deps are the collaborators of the lifecycle service. Only Store is required;
// a missing collaborator turns its effects into warnings.
type Deps struct {
	Store    Store
	Riders   RiderDirectory
	Drivers  DriverLookup
	Notifier Notifier
	Refunds  Refunder
	Ledger   Ledger
	Receipts ReceiptSender
	Logger   *slog.Logger
}

type Policy struct {
	SideEffectTimeout     time.Duration
	StoreTimeout          time.Duration
	SendReceipts          bool
	DefaultCommissionRate float64
	Currency              string
}

func DefaultPolicy() Policy {
	return Policy{
		SideEffectTimeout:     5 * time.Second,
		StoreTimeout:          3 * time.Second,
		SendReceipts:          true,
		DefaultCommissionRate: 0.15,
		Currency:              "GBP",
	}
}

// Warning reports a side effect that failed after the transition committed.
type Warning struct {
	Effect  EffectKind `json:"effect"`
	Message string     `json:"message"`
}

type Result struct {
	Booking  models.Booking        `json:"booking"`
	Warnings []Warning             `json:"warnings,omitempty"`
	Refund   *models.RefundOutcome `json:"refund,omitempty"`
}

type Service struct {
	deps   Deps
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

func NewService(deps Deps, policy Policy) *Service {
	l := deps.Logger
	if l == nil {
		l = logging.Discard()
	}
	return &Service{deps: deps, policy: policy, logger: l, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateRequest struct {
	RiderID              string
	Pickup               *models.Coord
	Dropoff              *models.Coord
	PickupAddress        string
	DropoffAddress       string
	RequiresWheelchair   bool
	ScheduledPickup      time.Time
	PaymentIntentID      string
	FareEstimate         *models.Money
	EstimatedDistanceKm  *float64
	EstimatedDurationMin *float64
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.RiderID) == "" {
		return &models.ValidationError{Field: "riderId", Msg: "required"}
	}
	if r.FareEstimate != nil && r.FareEstimate.Amount < 0 {
		return &models.ValidationError{Field: "fareEstimate", Msg: "must not be negative"}
	}
	if !validCoord(r.Pickup) {
		return &models.ValidationError{Field: "pickup", Msg: "coordinates out of range"}
	}
	if !validCoord(r.Dropoff) {
		return &models.ValidationError{Field: "dropoff", Msg: "coordinates out of range"}
	}
	return nil
}

// Create stores a new REQUESTED booking with a fresh PIN and announces it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	pin, err := newPinCode()
	if err != nil {
		return Result{}, fmt.Errorf("generate pin: %w", err)
	}
	now := s.now().UTC()
	b := models.Booking{
		ID:                   uuid.NewString(),
		Status:               models.StatusRequested,
		RiderID:              req.RiderID,
		Pickup:               req.Pickup,
		Dropoff:              req.Dropoff,
		PickupAddress:        req.PickupAddress,
		DropoffAddress:       req.DropoffAddress,
		RequiresWheelchair:   req.RequiresWheelchair,
		ScheduledPickup:      req.ScheduledPickup,
		FareEstimate:         req.FareEstimate,
		EstimatedDistanceKm:  req.EstimatedDistanceKm,
		EstimatedDurationMin: req.EstimatedDurationMin,
		PinCode:              pin,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if b.ScheduledPickup.IsZero() {
		b.ScheduledPickup = now
	}
	if b.FareEstimate != nil && b.FareEstimate.Currency == "" {
		b.FareEstimate.Currency = s.policy.Currency
	}
	if req.PaymentIntentID != "" {
		pi := req.PaymentIntentID
		b.PaymentIntentID = &pi
	}

	sctx, cancel := s.storeCtx(ctx)
	err = s.deps.Store.Create(sctx, &b)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("create booking: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("booking created", "booking_id", b.ID, "rider_id", b.RiderID, "wheelchair", b.RequiresWheelchair)

	var effects []Effect
	for _, ch := range []string{models.DispatchChannel, models.RiderChannel(b.RiderID)} {
		effects = append(effects, Effect{Kind: EffectNotify, Notification: &models.Notification{
			Channel: ch, Event: models.EventBookingCreated, BookingID: b.ID, Status: b.Status,
		}})
	}
	res := Result{Booking: b}
	s.runEffects(ctx, b, effects, &res)
	return res, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.Booking, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.deps.Store.Get(sctx, id)
}

// Assign binds driverID to a REQUESTED booking after checking the driver exists.
func (s *Service) Assign(ctx context.Context, bookingID, driverID string) (Result, error) {
	if driverID == "" {
		return Result{}, &models.ValidationError{Field: "driverId", Msg: "required to assign"}
	}
	if s.deps.Drivers != nil {
		sctx, cancel := s.storeCtx(ctx)
		_, err := s.deps.Drivers.Get(sctx, driverID)
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("assign booking %s: %w", bookingID, err)
		}
	}
	return s.Apply(ctx, bookingID, Event{Kind: EventAssign, DriverID: driverID})
}

func (s *Service) Advance(ctx context.Context, bookingID string) (Result, error) {
	return s.Apply(ctx, bookingID, Event{Kind: EventAdvance})
}

// Cancel cancels on behalf of the rider or a driver. actingDriverID is only
// checked for driver cancellations and may be empty.
func (s *Service) Cancel(ctx context.Context, bookingID string, reason models.CancelReason, actingDriverID string) (Result, error) {
	return s.Apply(ctx, bookingID, Event{Kind: EventCancel, Reason: reason, DriverID: actingDriverID})
}

func (s *Service) Complete(ctx context.Context, bookingID string, finalFare *models.Money) (Result, error) {
	return s.Apply(ctx, bookingID, Event{Kind: EventComplete, FinalFare: finalFare})
}

// Apply loads the booking and applies ev against the state just read.
func (s *Service) Apply(ctx context.Context, bookingID string, ev Event) (Result, error) {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	return s.ApplyTo(ctx, b, ev)
}

// ApplyTo applies ev using snapshot as the expected prior state. The write
// fails with ErrConflict if the booking changed since snapshot was read.
func (s *Service) ApplyTo(ctx context.Context, snapshot models.Booking, ev Event) (Result, error) {
	log := logging.FromContext(ctx, s.logger).With("booking_id", snapshot.ID)

	if ev.FinalFare != nil && ev.FinalFare.Currency == "" {
		f := *ev.FinalFare
		f.Currency = s.policy.Currency
		ev.FinalFare = &f
	}
	t, err := Plan(snapshot, ev, PlanOptions{Now: s.now().UTC(), SendReceipts: s.policy.SendReceipts, Currency: s.policy.Currency})
	if err != nil {
		log.Info("transition rejected", "status", snapshot.Status, "event", ev.Kind, "error", err)
		return Result{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	updated, err := s.deps.Store.Transition(sctx, snapshot.ID, storage.Expect{Status: snapshot.Status, Version: snapshot.Version}, t.Change)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.TransitionConflicts.Inc()
			log.Warn("transition lost race", "from", t.From, "to", t.To, "version", snapshot.Version)
		}
		return Result{}, err
	}
	observability.TransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
	log.Info("booking transitioned", "from", t.From, "to", t.To, "version", updated.Version, "driver_id", deref(updated.DriverID))

	res := Result{Booking: updated}
	s.runEffects(ctx, updated, t.Effects, &res)
	return res, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.policy.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.policy.StoreTimeout)
}

const (
	minPin = 1000
	maxPin = 999999
)

func newPinCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxPin-minPin+1))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + minPin, nil
}

func validCoord(c *models.Coord) bool {
	return c == nil || (c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
