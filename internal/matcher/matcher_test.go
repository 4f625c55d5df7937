package matcher

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

var pickup = models.Coord{Lat: 51.5, Lon: -0.1}

func ptr(f float64) *float64 { return &f }

func north(km float64) *models.Coord {
	return &models.Coord{Lat: pickup.Lat + km/111.195, Lon: pickup.Lon}
}

func newSelector() *Selector { return NewSelector(geo.NewScorer(geo.DefaultWeights(), 0)) }

func TestSelectBestCloserLowRatedVersusFartherHighRated(t *testing.T) {
	// A: 0.6*100 + 0.3*96 = 88.8, B: 0.6*100 + 0.3*60 = 78.
	drivers := []models.Driver{
		{ID: "A", Online: true, Loc: north(2), Rating: ptr(4.8)},
		{ID: "B", Online: true, Loc: north(1), Rating: ptr(3.0)},
	}
	best, ok, err := newSelector().SelectBest(drivers, models.Booking{Pickup: &pickup})
	if err != nil || !ok {
		t.Fatalf("expected a match, ok=%v err=%v", ok, err)
	}
	if best.DriverID != "A" {
		t.Fatalf("expected A, got %s", best.DriverID)
	}
	if math.Abs(best.TotalScore-88.8) > 1e-6 {
		t.Fatalf("expected 88.8, got %f", best.TotalScore)
	}
	ranked, _ := newSelector().Rank(drivers, models.Booking{Pickup: &pickup})
	if math.Abs(ranked[1].TotalScore-78) > 1e-6 {
		t.Fatalf("expected B at 78, got %f", ranked[1].TotalScore)
	}
}

func TestSelectBestWheelchairNeverPicksIncapable(t *testing.T) {
	drivers := []models.Driver{
		{ID: "C", Online: true, Loc: north(0.2), Rating: ptr(5)},
		{ID: "D", Online: true, Loc: north(8), WheelchairCapable: true},
	}
	best, ok, err := newSelector().SelectBest(drivers, models.Booking{Pickup: &pickup, RequiresWheelchair: true})
	if err != nil || !ok {
		t.Fatalf("expected a match, ok=%v err=%v", ok, err)
	}
	if best.DriverID != "D" {
		t.Fatalf("expected D, got %s", best.DriverID)
	}
}

func TestSelectBestNoEligible(t *testing.T) {
	drivers := []models.Driver{
		{ID: "off", Loc: north(1)},
		{ID: "lost", Online: true},
	}
	_, ok, err := newSelector().SelectBest(drivers, models.Booking{Pickup: &pickup})
	if err != nil {
		t.Fatalf("no eligible driver is not an error: %v", err)
	}
	if ok {
		t.Fatal("expected none")
	}
	if _, ok, err := newSelector().SelectBest(nil, models.Booking{Pickup: &pickup}); ok || err != nil {
		t.Fatalf("empty set: ok=%v err=%v", ok, err)
	}
}

func TestSelectRejectsMissingPickup(t *testing.T) {
	drivers := []models.Driver{{ID: "A", Online: true, Loc: north(1)}}
	if _, _, err := newSelector().SelectBest(drivers, models.Booking{}); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := newSelector().SelectTopN(drivers, models.Booking{}, 3); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSelectTopNOrderingAndCap(t *testing.T) {
	drivers := []models.Driver{
		{ID: "d1", Online: true, Loc: north(12), Rating: ptr(5)},
		{ID: "d2", Online: true, Loc: north(3), Rating: ptr(2)},
		{ID: "d3", Online: true, Loc: north(7)},
		{ID: "d4", Online: false, Loc: north(1), Rating: ptr(5)},
		{ID: "d5", Online: true, Loc: north(1), Rating: ptr(4.9), WheelchairCapable: false},
		{ID: "d6", Online: true, Loc: north(25), Rating: ptr(1)},
	}
	b := models.Booking{Pickup: &pickup}
	s := newSelector()

	got, err := s.SelectTopN(drivers, b, 3)
	if err != nil {
		t.Fatalf("topN: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TotalScore > got[i-1].TotalScore {
			t.Fatalf("not sorted: %+v", got)
		}
	}
	all, _ := s.SelectTopN(drivers, b, 50)
	if len(all) != 5 {
		t.Fatalf("expected the 5 eligible drivers, got %d", len(all))
	}
	for _, c := range all {
		if c.DriverID == "d4" {
			t.Fatal("offline driver must never be suggested")
		}
	}
	if none, _ := s.SelectTopN(drivers, b, 0); len(none) != 0 {
		t.Fatalf("n=0 should be empty, got %d", len(none))
	}
}

func TestSelectTopNExcludesIncapableWhenWheelchairRequired(t *testing.T) {
	drivers := []models.Driver{
		{ID: "x", Online: true, Loc: north(1)},
		{ID: "y", Online: true, Loc: north(2), WheelchairCapable: true},
	}
	got, _ := newSelector().SelectTopN(drivers, models.Booking{Pickup: &pickup, RequiresWheelchair: true}, 5)
	if len(got) != 1 || got[0].DriverID != "y" {
		t.Fatalf("unexpected suggestions %+v", got)
	}
}

func TestTieBreakByDistanceThenID(t *testing.T) {
	// Within 5km distance score is flat, so equal ratings tie on score.
	drivers := []models.Driver{
		{ID: "z", Online: true, Loc: north(1), Rating: ptr(4)},
		{ID: "far", Online: true, Loc: north(3), Rating: ptr(4)},
		{ID: "a", Online: true, Loc: north(1), Rating: ptr(4)},
	}
	got, _ := newSelector().SelectTopN(drivers, models.Booking{Pickup: &pickup}, 3)
	if got[0].DriverID != "a" || got[1].DriverID != "z" || got[2].DriverID != "far" {
		t.Fatalf("unexpected order %s %s %s", got[0].DriverID, got[1].DriverID, got[2].DriverID)
	}
}

func TestExplain(t *testing.T) {
	cases := []struct {
		c    models.Candidate
		want string
	}{
		{models.Candidate{DistanceKm: 1, Rating: ptr(4.9), WheelchairMatch: true}, "Very close to pickup location • Excellent rating • Wheelchair accessible vehicle"},
		{models.Candidate{DistanceKm: 4, Rating: ptr(4.1)}, "Close to pickup location • Good rating"},
		{models.Candidate{DistanceKm: 8}, "Reasonable distance to pickup"},
		{models.Candidate{DistanceKm: 30, Rating: ptr(3)}, "Best available driver"},
	}
	for _, tc := range cases {
		if got := Explain(tc.c); got != tc.want {
			t.Errorf("Explain(%+v) = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestSelectBestIgnoresAntipodalDriver(t *testing.T) {
	drivers := []models.Driver{
		{ID: "far", Online: true, Loc: &models.Coord{Lat: -pickup.Lat, Lon: pickup.Lon + 180}, Rating: ptr(5)},
		{ID: "near", Online: true, Loc: north(0.5)},
	}
	ranked, err := newSelector().Rank(drivers, models.Booking{Pickup: &pickup})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	for _, c := range ranked {
		if math.IsNaN(c.TotalScore) || math.IsNaN(c.DistanceKm) {
			t.Fatalf("non-finite candidate %+v", c)
		}
	}
	best, ok, err := newSelector().SelectBest(drivers, models.Booking{Pickup: &pickup})
	if err != nil || !ok {
		t.Fatalf("expected a match, ok=%v err=%v", ok, err)
	}
	if best.DriverID != "near" {
		t.Fatalf("expected near, got %s (score %f)", best.DriverID, best.TotalScore)
	}
}
