package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when a referenced rider or order does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned by a compare-and-set whose expected
	// status no longer matches the stored one.
	ErrStatusConflict = errors.New("rider status conflict")
)

// RiderStore defines persistence operations for riders. Status updates
// come in two flavors: the compare-and-set form is what the assignment
// engine uses to claim an available rider, so two concurrent attempts
// can never both win the same one.
type RiderStore interface {
	RiderByID(ctx context.Context, id string) (models.Rider, error)
	RiderByEmail(ctx context.Context, email string) (models.Rider, error)
	AllRiders(ctx context.Context) ([]models.Rider, error)
	UpdateRiderStatus(ctx context.Context, id string, status models.RiderStatus) error
	CompareAndSetRiderStatus(ctx context.Context, id string, expect, next models.RiderStatus) error
	UpdateRiderLocation(ctx context.Context, id string, lat, lon float64, at time.Time) error
}

// OrderPatch is a partial order update; nil fields are left untouched.
// AppendHistory entries are added to the status log in order.
type OrderPatch struct {
	AssignedRiderID       *string
	Status                *string
	NeedsManualAssignment *bool
	ExpectedPickupTime    *time.Time
	ExpectedDeliveryTime  *time.Time
	AppendHistory         []models.StatusEntry
}

// OrderStore defines persistence operations for orders.
type OrderStore interface {
	OrderByID(ctx context.Context, id string) (models.Order, error)
	UpdateOrder(ctx context.Context, id string, patch OrderPatch) (models.Order, error)
}
