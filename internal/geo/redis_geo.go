package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Provider using Redis GEO commands. Driver metadata
// (rating, online flag, vehicle class) lives in a hash next to the geo set.
type RedisGeo struct {
	client *redis.Client
	key    string
	radius float64 // meters
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, radius: 5000}
}

func (r *RedisGeo) Upsert(d models.Driver) {
	ctx := context.Background()
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Result()
	_ = r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"rating":  fmt.Sprintf("%f", d.Rating),
		"online":  strconv.FormatBool(d.Online),
		"class":   string(d.VehicleClass),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lon float64, class models.VehicleClass, limit int) []models.Driver {
	// overfetch so the class filter below can still fill the limit
	count := limit * 3
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: r.radius, Unit: "m", WithCoord: true, WithDist: true, Count: count, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, limit)
	for _, g := range res {
		if len(out) >= limit {
			break
		}
		d := models.Driver{ID: g.Name}
		d.Loc.Lat = g.Latitude
		d.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			if v, ok := m["online"]; ok {
				d.Online = (v == "true")
			}
			if v, ok := m["class"]; ok {
				d.VehicleClass = models.VehicleClass(v)
			}
		}
		if !d.Online {
			continue
		}
		if class != "" && d.VehicleClass != class {
			continue
		}
		out = append(out, d)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
