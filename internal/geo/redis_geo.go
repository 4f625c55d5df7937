package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

const halfEarthCircumferenceKm = 20038

// RedisGeo implements Directory using Redis GEO commands for positions and
// one hash per driver for metadata.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

// Upsert stores the position with GEOADD and the metadata with HSET. Drivers
// going offline are dropped from the GEO set so searches skip them.
func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.ID == "" {
		return &models.ValidationError{Field: "id", Msg: "required"}
	}
	if d.Loc != nil && d.LocUpdatedAt.IsZero() {
		d.LocUpdatedAt = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if d.Online && d.Loc != nil {
			pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID})
		} else {
			pipe.ZRem(ctx, r.key, d.ID)
		}
		pipe.HSet(ctx, MetaKey(d.ID), EncodeMeta(d))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert driver %s: %w", d.ID, err)
	}
	return nil
}

func (r *RedisGeo) Get(ctx context.Context, id string) (models.Driver, error) {
	meta, err := r.client.HGetAll(ctx, MetaKey(id)).Result()
	if err != nil {
		return models.Driver{}, fmt.Errorf("redis get driver %s: %w", id, err)
	}
	if len(meta) == 0 {
		return models.Driver{}, &models.NotFoundError{Resource: "driver", ID: id}
	}
	d := DecodeMeta(id, meta)
	pos, err := r.client.GeoPos(ctx, r.key, id).Result()
	if err != nil {
		return models.Driver{}, fmt.Errorf("redis get driver %s position: %w", id, err)
	}
	if len(pos) == 1 && pos[0] != nil {
		d.Loc = &models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return d, nil
}

func (r *RedisGeo) Nearby(ctx context.Context, near models.Coord, radiusKm float64, limit int) ([]models.Driver, error) {
	if radiusKm <= 0 {
		radiusKm = halfEarthCircumferenceKm
	}
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  near.Lon,
			Latitude:   near.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
	}
	locs, err := r.client.GeoSearchLocation(ctx, r.key, q).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(locs))
	for i, l := range locs {
		cmds[i] = pipe.HGetAll(ctx, MetaKey(l.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis driver metadata: %w", err)
	}

	out := make([]models.Driver, 0, len(locs))
	for i, l := range locs {
		meta := cmds[i].Val()
		if len(meta) == 0 {
			continue
		}
		d := DecodeMeta(l.Name, meta)
		if !d.Online {
			continue
		}
		d.Loc = &models.Coord{Lat: l.Latitude, Lon: l.Longitude}
		out = append(out, d)
	}
	return out, nil
}

// Online counts members of the GEO set, which holds online drivers only.
func (r *RedisGeo) Online(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}

func MetaKey(id string) string { return "driver:meta:" + id }

// EncodeMeta flattens the non-positional driver fields into hash values.
func EncodeMeta(d models.Driver) map[string]interface{} {
	m := map[string]interface{}{
		"name":       d.Name,
		"online":     strconv.FormatBool(d.Online),
		"wheelchair": strconv.FormatBool(d.WheelchairCapable),
		"commission": strconv.FormatFloat(d.CommissionRate, 'f', -1, 64),
		"rating":     "",
		"updated":    "",
	}
	if d.Rating != nil {
		m["rating"] = strconv.FormatFloat(*d.Rating, 'f', -1, 64)
	}
	if !d.LocUpdatedAt.IsZero() {
		m["updated"] = d.LocUpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// DecodeMeta is the inverse of EncodeMeta. Unparseable fields keep their zero value.
func DecodeMeta(id string, m map[string]string) models.Driver {
	d := models.Driver{ID: id, Name: m["name"]}
	d.Online = m["online"] == "true"
	d.WheelchairCapable = m["wheelchair"] == "true"
	if v, err := strconv.ParseFloat(m["commission"], 64); err == nil {
		d.CommissionRate = v
	}
	if v, err := strconv.ParseFloat(m["rating"], 64); err == nil {
		d.Rating = &v
	}
	if v, err := time.Parse(time.RFC3339Nano, m["updated"]); err == nil {
		d.LocUpdatedAt = v
	}
	return d
}
