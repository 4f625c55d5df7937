package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Directory is the read side of the driver heartbeat feed used for matching.
type Directory interface {
	Nearby(ctx context.Context, near models.Coord, radiusKm float64, limit int) ([]models.Driver, error)
	Get(ctx context.Context, id string) (models.Driver, error)
}

// Index is an in-memory Directory used when Redis is not configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver), now: time.Now}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	if d.ID == "" {
		return &models.ValidationError{Field: "id", Msg: "required"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Loc != nil && d.LocUpdatedAt.IsZero() {
		d.LocUpdatedAt = g.now()
	}
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) Get(_ context.Context, id string) (models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[id]
	if !ok {
		return models.Driver{}, &models.NotFoundError{Resource: "driver", ID: id}
	}
	return d, nil
}

// Nearby returns online drivers with a known location, closest first.
// radiusKm <= 0 disables the radius filter and limit <= 0 returns everything.
// naive scan; Redis GEO covers the production path
func (g *Index) Nearby(_ context.Context, near models.Coord, radiusKm float64, limit int) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online || d.Loc == nil {
			continue
		}
		dist := DistanceKm(near, *d.Loc)
		if radiusKm > 0 && !(dist <= radiusKm) {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].d.ID < arr[j].d.ID
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Driver, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out, nil
}

// Online counts drivers currently marked online.
func (g *Index) Online() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, d := range g.drivers {
		if d.Online {
			n++
		}
	}
	return n
}

const earthRadiusKm = 6371.0

// DistanceKm is the haversine great-circle distance between a and b.
func DistanceKm(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can leave h just outside [0,1] near antipodes
	h = math.Min(1, math.Max(0, h))
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(h))
}
