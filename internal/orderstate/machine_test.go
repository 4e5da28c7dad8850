package orderstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

func newMachine(t *testing.T, order models.Order, riders ...models.Rider) (*Machine, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemoryStore()
	mem.PutOrder(order)
	for _, r := range riders {
		mem.PutRider(r)
	}
	return &Machine{Orders: mem, Riders: mem}, mem
}

func TestApply_FullDeliveryChain(t *testing.T) {
	m, mem := newMachine(t,
		models.Order{ID: "o1", Status: models.DeliveryAccepted, AssignedRiderID: "r1"},
		models.Rider{ID: "r1", Status: models.RiderBusy},
	)

	chain := []string{
		models.DeliveryPickedUp,
		models.DeliveryInTransit,
		models.DeliveryOutForDelivery,
		models.DeliveryDelivered,
	}
	for _, next := range chain {
		got, err := m.Apply(context.Background(), "o1", next, "")
		require.NoError(t, err)
		require.Equal(t, next, got.Status)
	}

	order, _ := mem.OrderByID(context.Background(), "o1")
	require.Len(t, order.StatusHistory, len(chain))
	require.Equal(t, models.DeliveryDelivered, order.StatusHistory[len(chain)-1].Status)
}

func TestApply_RejectsSkippedStep(t *testing.T) {
	m, mem := newMachine(t, models.Order{ID: "o1", Status: models.DeliveryAccepted})

	_, err := m.Apply(context.Background(), "o1", models.DeliveryDelivered, "")
	var tErr *InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, models.DeliveryAccepted, tErr.From)
	require.Equal(t, models.DeliveryDelivered, tErr.To)

	order, _ := mem.OrderByID(context.Background(), "o1")
	require.Equal(t, models.DeliveryAccepted, order.Status, "rejected updates must not mutate the order")
	require.Empty(t, order.StatusHistory)
}

func TestApply_RejectsUnknownNextStatus(t *testing.T) {
	m, _ := newMachine(t, models.Order{ID: "o1", Status: models.DeliveryAccepted})
	_, err := m.Apply(context.Background(), "o1", "teleported", "")
	var tErr *InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
}

func TestApply_CancellableFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []string{
		models.DeliveryAccepted,
		models.DeliveryPickedUp,
		models.DeliveryInTransit,
		models.DeliveryOutForDelivery,
	} {
		m, _ := newMachine(t, models.Order{ID: "o1", Status: from})
		got, err := m.Apply(context.Background(), "o1", models.DeliveryCancelled, "customer cancelled")
		require.NoError(t, err, "cancel from %s", from)
		require.Equal(t, models.DeliveryCancelled, got.Status)
	}
}

func TestApply_TerminalStatesAcceptNothing(t *testing.T) {
	for _, from := range []string{
		models.DeliveryDelivered,
		models.DeliveryFailed,
		models.DeliveryCancelled,
	} {
		m, _ := newMachine(t, models.Order{ID: "o1", Status: from})
		_, err := m.Apply(context.Background(), "o1", models.DeliveryCancelled, "")
		var tErr *InvalidTransitionError
		require.ErrorAs(t, err, &tErr, "terminal status %s must be frozen", from)
	}
}

func TestApply_LegacyStatusReentersAtAccepted(t *testing.T) {
	m, _ := newMachine(t, models.Order{ID: "o1", Status: "Rider Assigned"})

	got, err := m.Apply(context.Background(), "o1", models.DeliveryAccepted, "rider confirmed")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryAccepted, got.Status)

	// Re-entry is only at accepted; a legacy status cannot jump deeper.
	m2, _ := newMachine(t, models.Order{ID: "o2", Status: "Rider Assigned"})
	_, err = m2.Apply(context.Background(), "o2", models.DeliveryInTransit, "")
	var tErr *InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
}

func TestApply_TerminalStatusFreesRider(t *testing.T) {
	for _, last := range []string{models.DeliveryDelivered, models.DeliveryFailed} {
		m, mem := newMachine(t,
			models.Order{ID: "o1", Status: models.DeliveryOutForDelivery, AssignedRiderID: "r1"},
			models.Rider{ID: "r1", Status: models.RiderBusy},
		)
		_, err := m.Apply(context.Background(), "o1", last, "")
		require.NoError(t, err)

		rider, _ := mem.RiderByID(context.Background(), "r1")
		require.Equal(t, models.RiderAvailable, rider.Status, "rider must be freed on %s", last)
	}
}

func TestApply_TerminalWithoutRiderIsFine(t *testing.T) {
	m, _ := newMachine(t, models.Order{ID: "o1", Status: models.DeliveryOutForDelivery})
	_, err := m.Apply(context.Background(), "o1", models.DeliveryDelivered, "")
	require.NoError(t, err)
}

func TestApply_MissingRiderDoesNotUndoTransition(t *testing.T) {
	// The assigned rider vanished from the store; the terminal transition
	// still stands.
	m, mem := newMachine(t, models.Order{ID: "o1", Status: models.DeliveryOutForDelivery, AssignedRiderID: "ghost"})
	got, err := m.Apply(context.Background(), "o1", models.DeliveryDelivered, "")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryDelivered, got.Status)

	order, _ := mem.OrderByID(context.Background(), "o1")
	require.Equal(t, models.DeliveryDelivered, order.Status)
}

func TestApply_UnknownOrder(t *testing.T) {
	m := &Machine{Orders: storage.NewMemoryStore(), Riders: storage.NewMemoryStore()}
	_, err := m.Apply(context.Background(), "ghost", models.DeliveryAccepted, "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApply_StampsHistoryWithInjectedClock(t *testing.T) {
	t0 := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	m, mem := newMachine(t, models.Order{ID: "o1", Status: models.DeliveryAccepted})
	m.Now = func() time.Time { return t0 }

	_, err := m.Apply(context.Background(), "o1", models.DeliveryPickedUp, "parcel collected")
	require.NoError(t, err)

	order, _ := mem.OrderByID(context.Background(), "o1")
	require.Len(t, order.StatusHistory, 1)
	require.Equal(t, t0, order.StatusHistory[0].Timestamp)
	require.Equal(t, "parcel collected", order.StatusHistory[0].Note)
}

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.DeliveryAccepted, models.DeliveryPickedUp, true},
		{models.DeliveryAccepted, models.DeliveryInTransit, false},
		{models.DeliveryPickedUp, models.DeliveryInTransit, true},
		{models.DeliveryInTransit, models.DeliveryOutForDelivery, true},
		{models.DeliveryOutForDelivery, models.DeliveryFailed, true},
		{models.DeliveryDelivered, models.DeliveryAccepted, false},
		{"", models.DeliveryAccepted, true},
		{"Pending Rider Assignment", models.DeliveryAccepted, true},
		{"Pending Rider Assignment", models.DeliveryPickedUp, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
