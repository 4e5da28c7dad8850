package geo

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
)

// IndexConfig holds the grid tunables. The defaults give ~1.1 km cells
// and a five minute rebuild throttle.
type IndexConfig struct {
	CellSizeDeg     float64
	BoundaryEpsDeg  float64
	RebuildInterval time.Duration
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		CellSizeDeg:     0.01,
		BoundaryEpsDeg:  0.001,
		RebuildInterval: 5 * time.Minute,
	}
}

type cellKey struct {
	LatIdx int
	LonIdx int
}

// Grid is one immutable build of the spatial index. Queries share a Grid
// freely; a rebuild produces a fresh one and publishes it whole.
type Grid struct {
	cellSizeDeg float64
	cells       map[cellKey][]models.Rider
	builtAt     time.Time
	indexed     int
}

// BuiltAt returns when this grid was constructed.
func (g *Grid) BuiltAt() time.Time { return g.builtAt }

// Indexed returns the number of riders placed in the grid.
func (g *Grid) Indexed() int { return g.indexed }

// riders returns the de-duplicated union of riders across the given
// cells. Boundary duplication means the same rider can sit in several
// cells.
func (g *Grid) riders(keys []cellKey) []models.Rider {
	seen := make(map[string]struct{})
	var out []models.Rider
	for _, k := range keys {
		for _, r := range g.cells[k] {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// Index maintains the current grid and enforces the rebuild throttle.
// The grid pointer is swapped atomically so in-flight queries never see
// a half-built index.
type Index struct {
	cfg    IndexConfig
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex // serializes rebuilds
	lastRebuild time.Time
	grid        atomic.Pointer[Grid]
}

func NewIndex(cfg IndexConfig, logger *slog.Logger) *Index {
	if cfg.CellSizeDeg <= 0 {
		cfg.CellSizeDeg = DefaultIndexConfig().CellSizeDeg
	}
	if cfg.BoundaryEpsDeg < 0 {
		cfg.BoundaryEpsDeg = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{cfg: cfg, logger: logger, now: time.Now}
}

// Snapshot returns the current grid, or nil if no rebuild has happened
// yet.
func (x *Index) Snapshot() *Grid { return x.grid.Load() }

// Rebuild constructs a new grid from the full rider set and publishes
// it. A call within the rebuild interval of the previous build is a
// no-op and returns false.
func (x *Index) Rebuild(riders []models.Rider) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.lastRebuild.IsZero() && x.now().Sub(x.lastRebuild) < x.cfg.RebuildInterval {
		observability.IndexRebuildsSkipped.Inc()
		return false
	}
	g := x.build(riders)
	x.grid.Store(g)
	x.lastRebuild = x.now()
	observability.IndexRebuildsTotal.Inc()
	observability.RidersIndexed.Set(float64(g.indexed))
	return true
}

func (x *Index) build(riders []models.Rider) *Grid {
	g := &Grid{
		cellSizeDeg: x.cfg.CellSizeDeg,
		cells:       make(map[cellKey][]models.Rider),
		builtAt:     x.now(),
	}
	for _, r := range riders {
		if !r.HasLocation() || !ValidCoords(r.Location.Lat, r.Location.Lon) {
			x.logger.Warn("rider excluded from spatial index", "rider_id", r.ID)
			continue
		}
		for _, k := range cellsForPoint(r.Location.Lat, r.Location.Lon, x.cfg.CellSizeDeg, x.cfg.BoundaryEpsDeg) {
			g.cells[k] = append(g.cells[k], r)
		}
		g.indexed++
	}
	return g
}

// cellsForPoint returns the home cell of a point plus any adjacent cells
// the point sits within eps degrees of, including the diagonal when it
// is near both a lat and a lon edge.
func cellsForPoint(lat, lon, sizeDeg, epsDeg float64) []cellKey {
	latIdx := int(math.Floor(lat / sizeDeg))
	rawLonIdx := int(math.Floor(lon / sizeDeg))

	latIdxs := []int{latIdx}
	if lat-float64(latIdx)*sizeDeg < epsDeg {
		latIdxs = append(latIdxs, latIdx-1)
	} else if float64(latIdx+1)*sizeDeg-lat < epsDeg {
		latIdxs = append(latIdxs, latIdx+1)
	}

	lonIdxs := []int{wrapLonIdx(rawLonIdx, sizeDeg)}
	if lon-float64(rawLonIdx)*sizeDeg < epsDeg {
		lonIdxs = append(lonIdxs, wrapLonIdx(rawLonIdx-1, sizeDeg))
	} else if float64(rawLonIdx+1)*sizeDeg-lon < epsDeg {
		lonIdxs = append(lonIdxs, wrapLonIdx(rawLonIdx+1, sizeDeg))
	}

	keys := make([]cellKey, 0, len(latIdxs)*len(lonIdxs))
	for _, la := range latIdxs {
		for _, lo := range lonIdxs {
			keys = append(keys, cellKey{LatIdx: la, LonIdx: lo})
		}
	}
	return keys
}

// wrapLonIdx folds a longitude cell index across the ±180° meridian so
// searches near the antimeridian see both sides.
func wrapLonIdx(idx int, sizeDeg float64) int {
	total := int(math.Round(360 / sizeDeg))
	min := int(math.Floor(-180 / sizeDeg))
	for idx < min {
		idx += total
	}
	for idx >= min+total {
		idx -= total
	}
	return idx
}
