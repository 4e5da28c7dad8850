package assign

import (
	"fmt"

	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/models"
)

// filterLevel selects which quality regime a ladder rung applies.
type filterLevel int

const (
	filtersBase filterLevel = iota
	filtersRelaxed
)

// strategy is one rung of the search ladder: a radius, an availability
// requirement, and a filter regime. Rungs run in order until one yields
// candidates.
type strategy struct {
	Name          string
	RadiusKm      float64
	AvailableOnly bool
	Filters       filterLevel
	IntercityOnly bool
}

// ladder expands the configured radii into the full rung sequence:
// each radius with availability required, then the relaxed-filter retry
// for intercity orders, then the final any-status sweep at the widest
// radius.
func ladder(cfg config.EngineConfig) []strategy {
	out := make([]strategy, 0, len(cfg.LadderRadiiKm)+2)
	for _, r := range cfg.LadderRadiiKm {
		out = append(out, strategy{
			Name:          fmt.Sprintf("nearby_%gkm", r),
			RadiusKm:      r,
			AvailableOnly: true,
			Filters:       filtersBase,
		})
	}
	widest := cfg.LadderRadiiKm[len(cfg.LadderRadiiKm)-1]
	out = append(out,
		strategy{Name: "relaxed_filters", RadiusKm: widest, AvailableOnly: true, Filters: filtersRelaxed, IntercityOnly: true},
		strategy{Name: "any_status", RadiusKm: widest, AvailableOnly: false, Filters: filtersRelaxed},
	)
	return out
}

// filtersFor resolves a rung's filter regime for a concrete order.
// Local orders carry no quality gates at any rung; intercity orders get
// the strict thresholds, dropped to the relaxed ones on the late rungs.
// The weight-capacity gate tracks the parcel and never relaxes.
func filtersFor(order models.Order, level filterLevel, cfg config.EngineConfig) models.RiderFilters {
	if !order.DistanceCategory.Intercity() {
		return models.RiderFilters{}
	}
	f := models.RiderFilters{
		MinCompletedDeliveries: cfg.IntercityMinDeliveries,
		MinRating:              cfg.IntercityMinRating,
		MinWeightCapacityKg:    order.ParcelWeightKg,
	}
	if level == filtersRelaxed {
		f.MinCompletedDeliveries = cfg.RelaxedMinDeliveries
		f.MinRating = cfg.RelaxedMinRating
	}
	return f
}
