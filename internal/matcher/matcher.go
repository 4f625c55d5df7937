package matcher

import (
	"sort"
	"strings"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Selector ranks eligible drivers for a booking.
type Selector struct {
	Scorer *geo.Scorer
}

func NewSelector(scorer *geo.Scorer) *Selector {
	return &Selector{Scorer: scorer}
}

// Rank scores every eligible driver and orders them by score desc, then
// distance asc, then driver id.
func (s *Selector) Rank(drivers []models.Driver, b models.Booking) ([]models.Candidate, error) {
	if b.Pickup == nil {
		return nil, &models.ValidationError{Field: "pickup", Msg: "booking has no pickup coordinates"}
	}
	seen := make(map[string]struct{}, len(drivers))
	out := make([]models.Candidate, 0, len(drivers))
	for _, d := range drivers {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		if c, ok := s.Scorer.Score(d, b); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out, nil
}

// SelectBest returns the top candidate. ok is false when nobody is eligible.
func (s *Selector) SelectBest(drivers []models.Driver, b models.Booking) (best models.Candidate, ok bool, err error) {
	ranked, err := s.Rank(drivers, b)
	if err != nil || len(ranked) == 0 {
		return models.Candidate{}, false, err
	}
	return ranked[0], true, nil
}

// SelectTopN returns at most n candidates for dispatcher review.
func (s *Selector) SelectTopN(drivers []models.Driver, b models.Booking, n int) ([]models.Candidate, error) {
	ranked, err := s.Rank(drivers, b)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []models.Candidate{}, nil
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

func better(a, b models.Candidate) bool {
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	return a.DriverID < b.DriverID
}

// Explain renders the score components as a short human justification.
func Explain(c models.Candidate) string {
	var reasons []string
	switch {
	case c.DistanceKm < 2:
		reasons = append(reasons, "Very close to pickup location")
	case c.DistanceKm < 5:
		reasons = append(reasons, "Close to pickup location")
	case c.DistanceKm < 10:
		reasons = append(reasons, "Reasonable distance to pickup")
	}
	if c.Rating != nil {
		switch {
		case *c.Rating >= 4.5:
			reasons = append(reasons, "Excellent rating")
		case *c.Rating >= 4.0:
			reasons = append(reasons, "Good rating")
		}
	}
	if c.WheelchairMatch {
		reasons = append(reasons, "Wheelchair accessible vehicle")
	}
	if len(reasons) == 0 {
		return "Best available driver"
	}
	return strings.Join(reasons, " • ")
}
