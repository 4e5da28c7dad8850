package orderstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

// transitions enumerates the allowed next-states per current state for
// the post-assignment delivery leg.
var transitions = map[string][]string{
	models.DeliveryAccepted:       {models.DeliveryPickedUp, models.DeliveryCancelled},
	models.DeliveryPickedUp:       {models.DeliveryInTransit, models.DeliveryCancelled},
	models.DeliveryInTransit:      {models.DeliveryOutForDelivery, models.DeliveryCancelled},
	models.DeliveryOutForDelivery: {models.DeliveryDelivered, models.DeliveryFailed, models.DeliveryCancelled},
	models.DeliveryDelivered:      {},
	models.DeliveryFailed:         {},
	models.DeliveryCancelled:      {},
}

var terminal = map[string]bool{
	models.DeliveryDelivered: true,
	models.DeliveryFailed:    true,
	models.DeliveryCancelled: true,
}

// Terminal reports whether the status ends the delivery leg.
func Terminal(status string) bool { return terminal[status] }

// Known reports whether the status belongs to the delivery-leg machine.
func Known(status string) bool {
	_, ok := transitions[status]
	return ok
}

// CanTransition reports whether current → next is allowed. Orders still
// carrying a status from before the formal machine (or the assignment
// statuses) may always re-enter at accepted.
func CanTransition(current, next string) bool {
	if !Known(current) {
		return next == models.DeliveryAccepted
	}
	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError rejects a status update outside the transition
// table. Nothing is mutated when it is returned.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %q to %q", e.From, e.To)
}

// Machine applies rider-reported delivery status updates and frees the
// rider when the leg ends.
type Machine struct {
	Orders storage.OrderStore
	Riders storage.RiderStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (m *Machine) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Apply validates and records the transition, returning the updated
// order. On a terminal status the assigned rider goes back to
// available; a failure there is logged but does not undo the completed
// transition.
func (m *Machine) Apply(ctx context.Context, orderID, next, note string) (models.Order, error) {
	if !Known(next) {
		return models.Order{}, &InvalidTransitionError{To: next}
	}
	order, err := m.Orders.OrderByID(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !CanTransition(order.Status, next) {
		return models.Order{}, &InvalidTransitionError{From: order.Status, To: next}
	}

	updated, err := m.Orders.UpdateOrder(ctx, orderID, storage.OrderPatch{
		Status: &next,
		AppendHistory: []models.StatusEntry{
			{Status: next, Timestamp: m.now(), Note: note},
		},
	})
	if err != nil {
		return models.Order{}, err
	}

	if Terminal(next) && updated.AssignedRiderID != "" {
		freeCtx := context.WithoutCancel(ctx)
		if err := m.Riders.UpdateRiderStatus(freeCtx, updated.AssignedRiderID, models.RiderAvailable); err != nil {
			m.logger().Error("rider not freed after terminal order status",
				"order_id", orderID, "rider_id", updated.AssignedRiderID, "error", err)
		}
	}
	return updated, nil
}
