package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/rider-dispatch/internal/models"
)

// RedisLocationCache mirrors rider positions into a Redis GEO set so
// operational tooling can query live locations without touching the
// primary store. The dispatch engine itself reads the in-process grid;
// this cache is populated by the location consumer.
type RedisLocationCache struct {
	client *redis.Client
	key    string
}

func NewRedisLocationCache(addr, password, key string) *RedisLocationCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisLocationCache{client: c, key: key}
}

func (r *RedisLocationCache) Record(ctx context.Context, upd models.RiderLocationUpdate) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: upd.Lon,
		Latitude:  upd.Lat,
		Name:      upd.RiderID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, locationMetaKey(upd.RiderID), map[string]interface{}{
		"lat":      strconv.FormatFloat(upd.Lat, 'f', 6, 64),
		"lon":      strconv.FormatFloat(upd.Lon, 'f', 6, 64),
		"recorded": upd.RecordedAt.Format(time.RFC3339),
	}).Err()
}

// Nearby returns rider ids within radiusKm of the point, nearest first.
func (r *RedisLocationCache) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}

func (r *RedisLocationCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLocationCache) Close() error { return r.client.Close() }

func locationMetaKey(id string) string { return "rider:location:" + id }
