package geo

import (
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Weights are the scoring policy constants.
type Weights struct {
	Distance        float64
	Rating          float64
	WheelchairBonus float64
}

func DefaultWeights() Weights {
	return Weights{Distance: 0.6, Rating: 0.3, WheelchairBonus: 10}
}

// Scorer filters and scores drivers for a booking. It holds no mutable state.
type Scorer struct {
	Weights Weights
	// FreshnessWindow bounds the age of a driver's last location.
	// Zero disables the check.
	FreshnessWindow time.Duration
	Now             func() time.Time
}

func NewScorer(w Weights, freshness time.Duration) *Scorer {
	return &Scorer{Weights: w, FreshnessWindow: freshness, Now: time.Now}
}

// Eligible reports whether d may be scored for b at all.
func (s *Scorer) Eligible(d models.Driver, b models.Booking) bool {
	if !d.Online || d.Loc == nil {
		return false
	}
	if b.RequiresWheelchair && !d.WheelchairCapable {
		return false
	}
	if s.FreshnessWindow > 0 {
		// unknown timestamps count as stale
		if d.LocUpdatedAt.IsZero() || s.now().Sub(d.LocUpdatedAt) > s.FreshnessWindow {
			return false
		}
	}
	return true
}

// Score returns the candidate for d, or false when d is ineligible or b has
// no pickup location.
func (s *Scorer) Score(d models.Driver, b models.Booking) (models.Candidate, bool) {
	if b.Pickup == nil || !s.Eligible(d, b) {
		return models.Candidate{}, false
	}
	km := DistanceKm(*d.Loc, *b.Pickup)
	if math.IsNaN(km) || math.IsInf(km, 0) {
		return models.Candidate{}, false
	}
	c := models.Candidate{
		DriverID:      d.ID,
		DistanceKm:    km,
		DistanceScore: ScoreDistance(km),
		RatingScore:   ScoreRating(d.Rating),
		Rating:        d.Rating,
	}
	if b.RequiresWheelchair && d.WheelchairCapable {
		c.WheelchairBonus = s.Weights.WheelchairBonus
		c.WheelchairMatch = true
	}
	c.TotalScore = s.Weights.Distance*c.DistanceScore + s.Weights.Rating*c.RatingScore + c.WheelchairBonus
	return c, true
}

func (s *Scorer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// ScoreDistance is piecewise linear and non-increasing:
// 100 up to 5 km, 100..75 over 5-10 km, 75..50 over 10-20 km, then -2 per km to 0.
func ScoreDistance(km float64) float64 {
	switch {
	case km <= 5:
		return 100
	case km <= 10:
		return 75 + (10-km)*5
	case km <= 20:
		return 50 + (20-km)*2.5
	default:
		return math.Max(0, 50-2*(km-20))
	}
}

// ScoreRating maps a 0-5 rating onto 0-100. Unrated drivers score a neutral 50.
func ScoreRating(rating *float64) float64 {
	if rating == nil {
		return 50
	}
	return *rating * 20
}
