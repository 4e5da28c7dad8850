package geo

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
)

// kmPerDegree approximates one degree of latitude, used only to size the
// cell window around a search circle. Exact distances are always
// recomputed per candidate.
const kmPerDegree = 111.0

// DefaultMaxRadiusKm bounds the cost of a single nearby search.
const DefaultMaxRadiusKm = 50.0

// RiderSource supplies current rider records, both for the linear-scan
// fallback and for refreshing indexed candidates at selection time.
type RiderSource interface {
	AllRiders(ctx context.Context) ([]models.Rider, error)
	RiderByID(ctx context.Context, id string) (models.Rider, error)
}

// Query answers nearby-rider searches against the grid index, degrading
// to a full scan of the rider source when the index cannot serve.
type Query struct {
	index       *Index
	src         RiderSource
	maxRadiusKm float64
	logger      *slog.Logger
}

func NewQuery(index *Index, src RiderSource, maxRadiusKm float64, logger *slog.Logger) *Query {
	if maxRadiusKm <= 0 {
		maxRadiusKm = DefaultMaxRadiusKm
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{index: index, src: src, maxRadiusKm: maxRadiusKm, logger: logger}
}

// FindNearby returns riders within radiusKm of center that pass the
// given filters, sorted by ascending distance. It never fails: index
// trouble and store errors degrade to an empty result after the scan
// fallback has been tried.
func (q *Query) FindNearby(ctx context.Context, center models.Location, radiusKm float64, availableOnly bool, f models.RiderFilters) []models.Candidate {
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		q.logger.Warn("rejecting non-positive search radius", "radius_km", radiusKm)
		return nil
	}
	if radiusKm > q.maxRadiusKm {
		radiusKm = q.maxRadiusKm
	}

	if grid := q.index.Snapshot(); grid != nil && ValidCoords(center.Lat, center.Lon) {
		keys := cellsForRadius(center.Lat, center.Lon, radiusKm, grid.cellSizeDeg)
		pool := q.refresh(ctx, grid.riders(keys))
		if cands := matchPool(pool, center, radiusKm, availableOnly, f); len(cands) > 0 {
			return cands
		}
	}

	// Index unbuilt, center unusable, or zero candidates: scan everything.
	observability.LinearScanFallbacks.Inc()
	all, err := q.src.AllRiders(ctx)
	if err != nil {
		q.logger.Error("rider scan fallback failed", "error", err)
		return nil
	}
	return matchPool(all, center, radiusKm, availableOnly, f)
}

// refresh swaps indexed rider copies for their current store records so
// a stale grid does not decide availability or distance. A failed lookup
// keeps the indexed copy.
func (q *Query) refresh(ctx context.Context, pool []models.Rider) []models.Rider {
	if q.src == nil {
		return pool
	}
	out := make([]models.Rider, 0, len(pool))
	for _, r := range pool {
		if cur, err := q.src.RiderByID(ctx, r.ID); err == nil {
			out = append(out, cur)
		} else {
			out = append(out, r)
		}
	}
	return out
}

// cellsForRadius returns every cell whose bounding area can intersect
// the search circle, ceil(radius/cell) cells out in each direction.
// Longitude indexes wrap across the antimeridian.
func cellsForRadius(lat, lon, radiusKm, sizeDeg float64) []cellKey {
	cellKm := sizeDeg * kmPerDegree
	steps := int(math.Ceil(radiusKm / cellKm))
	latIdx := int(math.Floor(lat / sizeDeg))
	lonIdx := int(math.Floor(lon / sizeDeg))

	keys := make([]cellKey, 0, (2*steps+1)*(2*steps+1))
	for dLat := -steps; dLat <= steps; dLat++ {
		for dLon := -steps; dLon <= steps; dLon++ {
			keys = append(keys, cellKey{
				LatIdx: latIdx + dLat,
				LonIdx: wrapLonIdx(lonIdx+dLon, sizeDeg),
			})
		}
	}
	return keys
}

// matchPool applies the fixed filter order (availability, completed
// deliveries, rating, weight capacity), then the exact radius cut, and
// sorts ascending by distance.
func matchPool(pool []models.Rider, center models.Location, radiusKm float64, availableOnly bool, f models.RiderFilters) []models.Candidate {
	out := make([]models.Candidate, 0, len(pool))
	for _, r := range pool {
		if availableOnly && r.Status != models.RiderAvailable {
			continue
		}
		if f.MinCompletedDeliveries > 0 && r.CompletedDeliveries < f.MinCompletedDeliveries {
			continue
		}
		if f.MinRating > 0 && r.Rating < f.MinRating {
			continue
		}
		if f.MinWeightCapacityKg > 0 && r.Capacity.MaxWeightKg < f.MinWeightCapacityKg {
			continue
		}
		if !r.HasLocation() {
			continue
		}
		d := DistanceKm(center.Lat, center.Lon, r.Location.Lat, r.Location.Lon)
		if d > radiusKm {
			continue
		}
		out = append(out, models.Candidate{Rider: r, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
