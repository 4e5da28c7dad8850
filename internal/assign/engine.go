package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/rider-dispatch/internal/analytics"
	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/dispatch"
	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
	"github.com/example/rider-dispatch/internal/storage"
)

// Engine turns an order's pickup location into a rider assignment by
// walking the search ladder, scoring candidates, and committing the
// rider/order transition pair. It is the only component allowed to set
// a rider busy.
type Engine struct {
	Riders    storage.RiderStore
	Orders    storage.OrderStore
	Query     *geo.Query
	Notifier  dispatch.Notifier
	Analytics analytics.Recorder
	Cfg       config.EngineConfig
	Logger    *slog.Logger
	Now       func() time.Time
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AssignRider runs one assignment attempt for the order. A nil
// assignment with a nil error means every strategy came up empty and
// the order was queued for manual assignment; that outcome is not an
// error.
func (e *Engine) AssignRider(ctx context.Context, orderID string) (*models.Assignment, error) {
	start := e.now()
	defer func() {
		observability.AssignmentLatency.Observe(time.Since(start).Seconds())
	}()

	order, err := e.Orders.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !geo.ValidCoords(order.PickupLocation.Lat, order.PickupLocation.Lon) {
		return nil, &ValidationError{Field: "pickup_location", Reason: "coordinates out of range"}
	}

	intercity := order.DistanceCategory.Intercity()
	for _, st := range ladder(e.Cfg) {
		if st.IntercityOnly && !intercity {
			continue
		}
		if ctx.Err() != nil {
			// Deadline hit mid-ladder: same terminal outcome as a fully
			// exhausted ladder, nothing half-assigned.
			e.logger().Warn("assignment deadline exceeded mid-ladder", "order_id", order.ID)
			break
		}
		f := filtersFor(order, st.Filters, e.Cfg)
		cands := e.Query.FindNearby(ctx, order.PickupLocation, st.RadiusKm, st.AvailableOnly, f)
		cands = dropDeclined(cands, order)
		if len(cands) == 0 {
			continue
		}
		asg, err := e.commit(ctx, order, rank(cands, intercity, e.Cfg), st, intercity)
		if err != nil {
			observability.AssignmentsTotal.WithLabelValues("commit_failed").Inc()
			return nil, err
		}
		if asg != nil {
			observability.AssignmentsTotal.WithLabelValues("assigned").Inc()
			observability.LadderRungUsed.WithLabelValues(st.Name).Inc()
			return asg, nil
		}
		// Every candidate in this rung was claimed by a concurrent
		// attempt; keep climbing.
	}

	if err := e.queueForManual(ctx, order); err != nil {
		return nil, err
	}
	observability.AssignmentsTotal.WithLabelValues("manual_queue").Inc()
	return nil, nil
}

// commit walks the ranked candidates, claims the first one that is
// still free, and writes the order side of the transition. A nil, nil
// return means no candidate could be claimed.
func (e *Engine) commit(ctx context.Context, order models.Order, ranked []models.Candidate, st strategy, intercity bool) (*models.Assignment, error) {
	for _, c := range ranked {
		// The claim is always available→busy: a candidate surfaced by
		// the any-status rung whose stored status really is busy or
		// offline loses here rather than being double-booked. The rung
		// exists to beat stale status signals, and the store compare
		// is the truth.
		if err := e.Riders.CompareAndSetRiderStatus(ctx, c.Rider.ID, models.RiderAvailable, models.RiderBusy); err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				observability.CommitConflicts.Inc()
			} else {
				e.logger().Warn("rider claim failed", "rider_id", c.Rider.ID, "error", err)
			}
			continue
		}
		asg, err := e.commitOrder(ctx, order, c, intercity)
		if err != nil {
			e.compensate(ctx, c.Rider)
			return nil, &CommitError{Stage: "order update", Err: err}
		}
		e.sideEffects(ctx, c, order, intercity)
		return asg, nil
	}
	return nil, nil
}

func (e *Engine) commitOrder(ctx context.Context, order models.Order, c models.Candidate, intercity bool) (*models.Assignment, error) {
	now := e.now()
	riderID := c.Rider.ID
	status := models.StatusRiderAssigned
	note := fmt.Sprintf("Assigned to %s (%.1f km away)", c.Rider.Name, c.DistanceKm)
	patch := storage.OrderPatch{
		AssignedRiderID: &riderID,
		Status:          &status,
		AppendHistory: []models.StatusEntry{
			{Status: status, Timestamp: now, Note: note},
		},
	}
	if intercity {
		pickupAt := now.Add(e.Cfg.PickupLead)
		lead := e.Cfg.IntercityDelivery
		if order.DistanceCategory == models.CategoryLongDistance {
			lead = e.Cfg.LongDistanceDelivery
		}
		deliveryAt := now.Add(lead)
		patch.ExpectedPickupTime = &pickupAt
		patch.ExpectedDeliveryTime = &deliveryAt
	}
	if _, err := e.Orders.UpdateOrder(ctx, order.ID, patch); err != nil {
		return nil, err
	}
	return &models.Assignment{
		OrderID:    order.ID,
		RiderID:    riderID,
		RiderName:  c.Rider.Name,
		DistanceKm: c.DistanceKm,
		Intercity:  intercity,
	}, nil
}

// compensate reverts a claimed rider after the order-side write failed.
// A failed revert is logged; the original failure still reaches the
// caller.
func (e *Engine) compensate(ctx context.Context, r models.Rider) {
	revertCtx := context.WithoutCancel(ctx)
	if err := e.Riders.UpdateRiderStatus(revertCtx, r.ID, models.RiderAvailable); err != nil {
		e.logger().Error("rider revert failed after order commit failure",
			"rider_id", r.ID, "error", err)
	}
}

func (e *Engine) queueForManual(ctx context.Context, order models.Order) error {
	// The flag must land even when the attempt's deadline already fired.
	writeCtx := context.WithoutCancel(ctx)
	status := models.StatusPendingAssignment
	manual := true
	_, err := e.Orders.UpdateOrder(writeCtx, order.ID, storage.OrderPatch{
		Status:                &status,
		NeedsManualAssignment: &manual,
		AppendHistory: []models.StatusEntry{
			{Status: status, Timestamp: e.now(), Note: "No qualifying rider found; queued for manual assignment"},
		},
	})
	if err != nil {
		return &CommitError{Stage: "manual queue flag", Err: err}
	}
	return nil
}

func (e *Engine) sideEffects(ctx context.Context, c models.Candidate, order models.Order, intercity bool) {
	if e.Notifier != nil {
		if err := e.Notifier.NotifyAssignment(ctx, c.Rider, order.ID, order.PickupLocation); err != nil {
			e.logger().Warn("rider notification failed", "rider_id", c.Rider.ID, "order_id", order.ID, "error", err)
		}
	}
	if e.Analytics != nil {
		e.Analytics.TrackEvent(ctx, "rider_assigned", map[string]any{
			"order_id":    order.ID,
			"rider_id":    c.Rider.ID,
			"distance_km": c.DistanceKm,
			"intercity":   intercity,
		})
	}
}

// rank orders a candidate set for selection. Local orders keep the
// ascending-distance order from the search; intercity orders re-rank by
// the quality score, best first.
func rank(cands []models.Candidate, intercity bool, cfg config.EngineConfig) []models.Candidate {
	if !intercity {
		return cands
	}
	ranked := make([]models.Candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i], cfg) > score(ranked[j], cfg)
	})
	return ranked
}

// score trades rider quality against distance for intercity selection.
func score(c models.Candidate, cfg config.EngineConfig) float64 {
	return c.Rider.Rating*cfg.ScoreRatingWeight +
		float64(c.Rider.CompletedDeliveries)*cfg.ScoreDeliveriesWeight -
		c.DistanceKm*cfg.ScoreDistanceWeight
}

// dropDeclined removes riders that already turned this order down. The
// exclusion is scoped to this order only.
func dropDeclined(cands []models.Candidate, order models.Order) []models.Candidate {
	if len(order.DeclinedBy) == 0 {
		return cands
	}
	out := cands[:0]
	for _, c := range cands {
		if !order.Declined(c.Rider.ID) {
			out = append(out, c)
		}
	}
	return out
}
