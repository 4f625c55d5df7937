package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/assign"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
)

const maxBodyBytes = 1 << 20

// Bookings is the lifecycle surface exposed over HTTP.
type Bookings interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Result, error)
	Get(ctx context.Context, id string) (models.Booking, error)
	Assign(ctx context.Context, bookingID, driverID string) (lifecycle.Result, error)
	Cancel(ctx context.Context, bookingID string, reason models.CancelReason, actingDriverID string) (lifecycle.Result, error)
	Complete(ctx context.Context, bookingID string, finalFare *models.Money) (lifecycle.Result, error)
	ApplyTo(ctx context.Context, snapshot models.Booking, ev lifecycle.Event) (lifecycle.Result, error)
}

type Dispatcher interface {
	Assign(ctx context.Context, req assign.Request) (assign.Result, error)
}

type DriverRegistry interface {
	Upsert(ctx context.Context, d models.Driver) error
}

type HeartbeatPublisher interface {
	PublishHeartbeat(ctx context.Context, d models.Driver) error
}

type EarningsReader interface {
	Earnings(driverID string) ledger.Summary
}

// Deps wires the server. Heartbeats, Earnings and Hub are optional.
type Deps struct {
	Bookings   Bookings
	Dispatcher Dispatcher
	Drivers    DriverRegistry
	Heartbeats HeartbeatPublisher
	Earnings   EarningsReader
	Hub        *notify.Hub
	Logger     *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	l := deps.Logger
	if l == nil {
		l = logging.Discard()
	}
	s := &Server{deps: deps, logger: l, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/dispatch/assign", s.handleAssign).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/drivers/{id}/earnings", s.handleEarnings).Methods(http.MethodGet)
	s.mux.HandleFunc("/internal/driver/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{channel}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createBookingBody struct {
	RiderID              string        `json:"riderId"`
	Pickup               *models.Coord `json:"pickup"`
	Dropoff              *models.Coord `json:"dropoff"`
	PickupAddress        string        `json:"pickupAddress"`
	DropoffAddress       string        `json:"dropoffAddress"`
	RequiresWheelchair   bool          `json:"requiresWheelchair"`
	ScheduledPickupTime  time.Time     `json:"scheduledPickupTime"`
	PaymentIntentID      string        `json:"paymentIntentId"`
	FareEstimate         *models.Money `json:"fareEstimate"`
	EstimatedDistanceKm  *float64      `json:"estimatedDistanceKm"`
	EstimatedDurationMin *float64      `json:"estimatedDurationMin"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Bookings.Create(r.Context(), lifecycle.CreateRequest{
		RiderID:              body.RiderID,
		Pickup:               body.Pickup,
		Dropoff:              body.Dropoff,
		PickupAddress:        body.PickupAddress,
		DropoffAddress:       body.DropoffAddress,
		RequiresWheelchair:   body.RequiresWheelchair,
		ScheduledPickup:      body.ScheduledPickupTime,
		PaymentIntentID:      body.PaymentIntentID,
		FareEstimate:         body.FareEstimate,
		EstimatedDistanceKm:  body.EstimatedDistanceKm,
		EstimatedDurationMin: body.EstimatedDurationMin,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type statusBody struct {
	NewStatus    string        `json:"newStatus"`
	DriverID     string        `json:"driverId"`
	CancelReason string        `json:"cancelReason"`
	FinalFare    *models.Money `json:"finalFare"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body statusBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.updateStatus(r.Context(), id, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateStatus(ctx context.Context, id string, body statusBody) (lifecycle.Result, error) {
	to, err := models.ParseStatus(body.NewStatus)
	if err != nil {
		return lifecycle.Result{}, err
	}
	switch to {
	case models.StatusCanceled:
		if body.CancelReason == "" {
			return lifecycle.Result{}, &models.ValidationError{Field: "cancelReason", Msg: "required when canceling"}
		}
		reason, err := models.ParseCancelReason(body.CancelReason)
		if err != nil {
			return lifecycle.Result{}, err
		}
		return s.deps.Bookings.Cancel(ctx, id, reason, body.DriverID)
	case models.StatusAssigned:
		return s.deps.Bookings.Assign(ctx, id, body.DriverID)
	case models.StatusCompleted:
		return s.deps.Bookings.Complete(ctx, id, body.FinalFare)
	}

	// Forward moves are only accepted one step at a time, checked against the
	// same snapshot the conditional write expects.
	b, err := s.deps.Bookings.Get(ctx, id)
	if err != nil {
		return lifecycle.Result{}, err
	}
	if next, ok := lifecycle.Next(b.Status); !ok || next != to {
		return lifecycle.Result{}, fmt.Errorf("%w: cannot move a %s booking to %s", models.ErrInvalidTransition, b.Status, to)
	}
	return s.deps.Bookings.ApplyTo(ctx, b, lifecycle.Event{Kind: lifecycle.EventAdvance})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assign.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Dispatcher.Assign(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type heartbeatBody struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Online            *bool     `json:"online"`
	Lat               *float64  `json:"lat"`
	Lon               *float64  `json:"lon"`
	At                time.Time `json:"at"`
	WheelchairCapable bool      `json:"wheelchairCapable"`
	Rating            *float64  `json:"rating"`
	CommissionRate    float64   `json:"commissionRate"`
}

func (h heartbeatBody) driver() (models.Driver, error) {
	if strings.TrimSpace(h.ID) == "" {
		return models.Driver{}, &models.ValidationError{Field: "id", Msg: "required"}
	}
	d := models.Driver{
		ID:                h.ID,
		Name:              h.Name,
		Online:            true,
		LocUpdatedAt:      h.At,
		WheelchairCapable: h.WheelchairCapable,
		Rating:            h.Rating,
		CommissionRate:    h.CommissionRate,
	}
	if h.Online != nil {
		d.Online = *h.Online
	}
	if (h.Lat == nil) != (h.Lon == nil) {
		return models.Driver{}, &models.ValidationError{Field: "lat", Msg: "lat and lon must be sent together"}
	}
	if h.Lat != nil {
		if *h.Lat < -90 || *h.Lat > 90 || *h.Lon < -180 || *h.Lon > 180 {
			return models.Driver{}, &models.ValidationError{Field: "lat", Msg: "coordinates out of range"}
		}
		d.Loc = &models.Coord{Lat: *h.Lat, Lon: *h.Lon}
	}
	if d.Rating != nil && (*d.Rating < 0 || *d.Rating > 5) {
		return models.Driver{}, &models.ValidationError{Field: "rating", Msg: "must be within 0..5"}
	}
	if d.CommissionRate < 0 || d.CommissionRate > 1 {
		return models.Driver{}, &models.ValidationError{Field: "commissionRate", Msg: "must be within 0..1"}
	}
	return d, nil
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body heartbeatBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := body.driver()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Drivers.Upsert(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Heartbeats != nil {
		if err := s.deps.Heartbeats.PublishHeartbeat(r.Context(), d); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("heartbeat publish failed", "driver_id", d.ID, "error", err)
		}
	}
	s.refreshOnlineGauge(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshOnlineGauge(ctx context.Context) {
	switch c := s.deps.Drivers.(type) {
	case interface{ Online() int }:
		observability.DriversOnline.Set(float64(c.Online()))
	case interface {
		Online(context.Context) (int64, error)
	}:
		if n, err := c.Online(ctx); err == nil {
			observability.DriversOnline.Set(float64(n))
		}
	}
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Earnings == nil {
		http.Error(w, "earnings not available", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Earnings.Earnings(mux.Vars(r)["id"]))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		http.Error(w, "notifications not available", http.StatusNotImplemented)
		return
	}
	channel := mux.Vars(r)["channel"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	unsubscribe := s.deps.Hub.Subscribe(channel, conn)
	defer unsubscribe()
	// Subscribers only listen; reading drains control frames and notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Msg: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
