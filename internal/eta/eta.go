package eta

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
)

// Estimator produces a travel-time estimate between two points.
type Estimator interface {
	TravelSeconds(ctx context.Context, from, to models.Location) (float64, error)
}

// DefaultSpeedKmph is the straight-line rider speed used when no routing
// backend is configured or a lookup fails.
const DefaultSpeedKmph = 25.0

// Cache is a small TTL cache for travel-time lookups keyed by the
// endpoint pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	at time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Location) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func (c *Cache) get(a, b models.Location) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.at) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) set(a, b models.Location, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, at: time.Now()}
	c.mu.Unlock()
}

// Service estimates rider travel times, preferring a routing backend
// when one is configured and falling back to a straight-line estimate.
// Lookups never fail; the fallback always produces a number.
type Service struct {
	Client    Estimator // optional routing backend
	Cache     *Cache    // optional, used only with a Client
	SpeedKmph float64
	Logger    *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// TravelSeconds returns the estimated riding time from -> to in seconds.
func (s *Service) TravelSeconds(ctx context.Context, from, to models.Location) float64 {
	if s.Client != nil {
		if s.Cache != nil {
			if v, ok := s.Cache.get(from, to); ok {
				return v
			}
		}
		v, err := s.Client.TravelSeconds(ctx, from, to)
		if err == nil {
			if s.Cache != nil {
				s.Cache.set(from, to, v)
			}
			return v
		}
		s.logger().Warn("routing lookup failed, using straight-line estimate", "error", err)
	}
	return straightLineSeconds(from, to, s.SpeedKmph)
}

func straightLineSeconds(from, to models.Location, speedKmph float64) float64 {
	if speedKmph <= 0 {
		speedKmph = DefaultSpeedKmph
	}
	d := geo.DistanceKm(from.Lat, from.Lon, to.Lat, to.Lon)
	return d / speedKmph * 3600
}
