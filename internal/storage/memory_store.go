package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

// MemoryStore keeps riders and orders in process memory. It backs local
// runs without a database and every engine test. The compare-and-set
// runs under the write lock, so it carries the same claim semantics as
// the SQL implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	riders map[string]models.Rider
	orders map[string]models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		riders: make(map[string]models.Rider),
		orders: make(map[string]models.Order),
	}
}

func (m *MemoryStore) PutRider(r models.Rider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = r
}

func (m *MemoryStore) PutOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MemoryStore) RiderByID(ctx context.Context, id string) (models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return models.Rider{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) RiderByEmail(ctx context.Context, email string) (models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.riders {
		if r.Email == email {
			return r, nil
		}
	}
	return models.Rider{}, ErrNotFound
}

func (m *MemoryStore) AllRiders(ctx context.Context) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rider, 0, len(m.riders))
	for _, r := range m.riders {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) UpdateRiderStatus(ctx context.Context, id string, status models.RiderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) CompareAndSetRiderStatus(ctx context.Context, id string, expect, next models.RiderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != expect {
		return ErrStatusConflict
	}
	r.Status = next
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) UpdateRiderLocation(ctx context.Context, id string, lat, lon float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	r.Location = &models.Location{Lat: lat, Lon: lon, UpdatedAt: at}
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) OrderByID(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, id string, patch OrderPatch) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	applyPatch(&o, patch)
	m.orders[id] = o
	return o, nil
}

func applyPatch(o *models.Order, patch OrderPatch) {
	if patch.AssignedRiderID != nil {
		o.AssignedRiderID = *patch.AssignedRiderID
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.NeedsManualAssignment != nil {
		o.NeedsManualAssignment = *patch.NeedsManualAssignment
	}
	if patch.ExpectedPickupTime != nil {
		o.ExpectedPickupTime = patch.ExpectedPickupTime
	}
	if patch.ExpectedDeliveryTime != nil {
		o.ExpectedDeliveryTime = patch.ExpectedDeliveryTime
	}
	o.StatusHistory = append(o.StatusHistory, patch.AppendHistory...)
}
