package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/models"
)

// RedisIndex implements DriverIndex on Redis GEO commands plus a per-driver
// meta hash, so multiple ingest paths (HTTP, kafka consumer) share one view.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

// NewRedisIndexFromClient wraps an existing client (shared with the kafka
// consumer binary).
func NewRedisIndexFromClient(c *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(d models.Driver) {
	if d.Loc == nil {
		return
	}
	name := strconv.FormatInt(d.ID, 10)
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: name}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"rating":       strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"class":        d.VehicleClass,
		"available":    strconv.FormatBool(d.Available),
		"verified":     strconv.FormatBool(d.Verified),
		"active":       strconv.FormatBool(d.Active),
		"availability": string(d.Availability),
		"updated":      time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Remove(driverID int64) {
	name := strconv.FormatInt(driverID, 10)
	_ = r.client.ZRem(r.ctx, r.key, name).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisIndex) Near(lat, lon, radiusKm float64, limit int) []models.Candidate {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Candidate, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		d := models.Driver{ID: id, Loc: &models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			d.VehicleClass = m["class"]
			d.Available = m["available"] == "true"
			d.Verified = m["verified"] == "true"
			d.Active = m["active"] == "true"
			d.Availability = models.Availability(m["availability"])
		}
		out = append(out, models.Candidate{Driver: d, DistanceKm: math2(g.Dist)})
	}
	SortByDistance(out)
	return out
}

// redis reports distance in the query unit already; keep the same 2-decimal
// rounding as DistanceKm.
func math2(km float64) float64 {
	return float64(int64(km*100+0.5)) / 100
}

func metaKey(id int64) string { return "driver:meta:" + strconv.FormatInt(id, 10) }
