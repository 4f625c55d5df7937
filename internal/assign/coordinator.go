// Package assign runs driver selection against the live booking store.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type Outcome string

const (
	OutcomeAssigned         Outcome = "ASSIGNED"
	OutcomeSuggestions      Outcome = "SUGGESTIONS"
	OutcomeNoEligibleDriver Outcome = "NO_ELIGIBLE_DRIVER"
)

type Request struct {
	BookingID      string `json:"bookingId"`
	GetSuggestions bool   `json:"getSuggestions,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type Assignment struct {
	DriverID    string  `json:"driverId"`
	Score       float64 `json:"score"`
	DistanceKm  float64 `json:"distanceKm"`
	Explanation string  `json:"explanation"`
}

type Result struct {
	Outcome     Outcome             `json:"outcome"`
	Assignment  *Assignment         `json:"assignment,omitempty"`
	Suggestions []Assignment        `json:"suggestions,omitempty"`
	Booking     *models.Booking     `json:"booking,omitempty"`
	Warnings    []lifecycle.Warning `json:"warnings,omitempty"`
}

// Lifecycle is the part of the lifecycle service the coordinator drives.
type Lifecycle interface {
	Get(ctx context.Context, id string) (models.Booking, error)
	ApplyTo(ctx context.Context, snapshot models.Booking, ev lifecycle.Event) (lifecycle.Result, error)
}

type Config struct {
	SearchRadiusKm float64
	CandidateLimit int
	DefaultTopN    int
	MaxTopN        int
	// DirectoryTimeout bounds the nearby-driver query. Zero leaves it to ctx.
	DirectoryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{SearchRadiusKm: 50, CandidateLimit: 200, DefaultTopN: 5, MaxTopN: 20, DirectoryTimeout: 2 * time.Second}
}

type Coordinator struct {
	bookings Lifecycle
	drivers  geo.Directory
	selector *matcher.Selector
	cfg      Config
	logger   *slog.Logger
}

func NewCoordinator(bookings Lifecycle, drivers geo.Directory, selector *matcher.Selector, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{bookings: bookings, drivers: drivers, selector: selector, cfg: cfg, logger: logger}
}

// Assign reads the booking, ranks nearby drivers and, unless suggestions were
// requested, binds the best one with a conditional REQUESTED->ASSIGNED write.
// A lost race surfaces as ErrConflict; callers re-read and re-score.
func (c *Coordinator) Assign(ctx context.Context, req Request) (Result, error) {
	if req.BookingID == "" {
		return Result{}, &models.ValidationError{Field: "bookingId", Msg: "required"}
	}
	log := logging.FromContext(ctx, c.logger).With("booking_id", req.BookingID)

	b, err := c.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return Result{}, err
	}
	if b.Status != models.StatusRequested {
		observability.AssignmentsTotal.WithLabelValues("conflict").Inc()
		return Result{}, fmt.Errorf("booking %s is %s, not REQUESTED: %w", b.ID, b.Status, models.ErrConflict)
	}
	if b.Pickup == nil {
		return Result{}, &models.ValidationError{Field: "pickup", Msg: "booking has no pickup coordinates"}
	}

	start := time.Now()
	drivers, err := c.nearby(ctx, *b.Pickup)
	if err != nil {
		return Result{}, fmt.Errorf("load drivers: %w", err)
	}
	observability.CandidatesScored.Observe(float64(len(drivers)))

	if req.GetSuggestions {
		ranked, err := c.selector.SelectTopN(drivers, b, c.topN(req.Limit))
		observability.MatchLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			return Result{}, err
		}
		if len(ranked) == 0 {
			observability.AssignmentsTotal.WithLabelValues("no_eligible_driver").Inc()
			return Result{Outcome: OutcomeNoEligibleDriver}, nil
		}
		out := Result{Outcome: OutcomeSuggestions, Suggestions: make([]Assignment, 0, len(ranked))}
		for _, cand := range ranked {
			out.Suggestions = append(out.Suggestions, toAssignment(cand))
		}
		observability.AssignmentsTotal.WithLabelValues("suggestions").Inc()
		return out, nil
	}

	best, ok, err := c.selector.SelectBest(drivers, b)
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}
	if !ok {
		observability.AssignmentsTotal.WithLabelValues("no_eligible_driver").Inc()
		log.Info("no eligible driver", "considered", len(drivers), "wheelchair", b.RequiresWheelchair)
		return Result{Outcome: OutcomeNoEligibleDriver}, nil
	}

	res, err := c.bookings.ApplyTo(ctx, b, lifecycle.Event{Kind: lifecycle.EventAssign, DriverID: best.DriverID})
	if err != nil {
		if models.IsConflict(err) {
			observability.AssignmentsTotal.WithLabelValues("conflict").Inc()
		}
		return Result{}, err
	}
	observability.AssignmentsTotal.WithLabelValues("assigned").Inc()
	log.Info("driver assigned", "driver_id", best.DriverID, "score", best.TotalScore, "distance_km", best.DistanceKm)

	a := toAssignment(best)
	return Result{Outcome: OutcomeAssigned, Assignment: &a, Booking: &res.Booking, Warnings: res.Warnings}, nil
}

func (c *Coordinator) nearby(ctx context.Context, pickup models.Coord) ([]models.Driver, error) {
	if c.cfg.DirectoryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DirectoryTimeout)
		defer cancel()
	}
	return c.drivers.Nearby(ctx, pickup, c.cfg.SearchRadiusKm, c.cfg.CandidateLimit)
}

func (c *Coordinator) topN(limit int) int {
	n := limit
	if n <= 0 {
		n = c.cfg.DefaultTopN
	}
	if c.cfg.MaxTopN > 0 && n > c.cfg.MaxTopN {
		n = c.cfg.MaxTopN
	}
	return n
}

func toAssignment(c models.Candidate) Assignment {
	return Assignment{
		DriverID:    c.DriverID,
		Score:       c.TotalScore,
		DistanceKm:  c.DistanceKm,
		Explanation: matcher.Explain(c),
	}
}
