package geo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

// newQueryFixture builds an index and query over the given riders, with
// the same set visible to the store-backed fallback and refresh paths.
func newQueryFixture(t *testing.T, riders ...models.Rider) (*Query, *storage.MemoryStore, *Index) {
	t.Helper()
	mem := storage.NewMemoryStore()
	for _, r := range riders {
		mem.PutRider(r)
	}
	idx := NewIndex(DefaultIndexConfig(), nil)
	idx.Rebuild(riders)
	return NewQuery(idx, mem, DefaultMaxRadiusKm, nil), mem, idx
}

func TestFindNearby_SortedAscendingWithinRadius(t *testing.T) {
	q, _, _ := newQueryFixture(t,
		testRider("far", 10.04, 10),  // ~4.4 km
		testRider("near", 10.01, 10), // ~1.1 km
		testRider("mid", 10.02, 10),  // ~2.2 km
		testRider("out", 10.50, 10),  // ~55 km
	)
	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{})
	require.Len(t, got, 3)
	require.Equal(t, "near", got[0].Rider.ID)
	require.Equal(t, "mid", got[1].Rider.ID)
	require.Equal(t, "far", got[2].Rider.ID)
	for _, c := range got {
		require.LessOrEqual(t, c.DistanceKm, 10.0)
	}
}

func TestFindNearby_AvailabilityFilter(t *testing.T) {
	busy := testRider("busy", 10.01, 10)
	busy.Status = models.RiderBusy
	q, _, _ := newQueryFixture(t, busy, testRider("free", 10.02, 10))

	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{})
	require.Len(t, got, 1)
	require.Equal(t, "free", got[0].Rider.ID)

	got = q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, false, models.RiderFilters{})
	require.Len(t, got, 2)
}

func TestFindNearby_QualityFilters(t *testing.T) {
	strong := testRider("strong", 10.01, 10)
	strong.Rating = 4.8
	strong.CompletedDeliveries = 120
	strong.Capacity.MaxWeightKg = 40

	weak := testRider("weak", 10.005, 10)
	weak.Rating = 4.1
	weak.CompletedDeliveries = 10
	weak.Capacity.MaxWeightKg = 5

	q, _, _ := newQueryFixture(t, strong, weak)
	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{
		MinCompletedDeliveries: 50,
		MinRating:              4.5,
		MinWeightCapacityKg:    20,
	})
	require.Len(t, got, 1)
	require.Equal(t, "strong", got[0].Rider.ID)
}

func TestFindNearby_MonotonicSuperset(t *testing.T) {
	q, _, _ := newQueryFixture(t,
		testRider("a", 10.01, 10),
		testRider("b", 10.05, 10),
		testRider("c", 10.10, 10),
		testRider("d", 10.15, 10),
	)
	center := models.Location{Lat: 10, Lon: 10}
	small := q.FindNearby(context.Background(), center, 7, true, models.RiderFilters{})
	large := q.FindNearby(context.Background(), center, 20, true, models.RiderFilters{})

	ids := make(map[string]bool)
	for _, c := range large {
		ids[c.Rider.ID] = true
	}
	for _, c := range small {
		require.True(t, ids[c.Rider.ID], "rider %s found at r=7 must be found at r=20", c.Rider.ID)
	}
	require.Greater(t, len(large), len(small))
}

func TestFindNearby_BoundaryRiderFoundFromNeighborCell(t *testing.T) {
	// Rider sits 0.0005° above a cell edge; the search center is just
	// inside the cell below. Boundary duplication must surface it even
	// for a sub-cell radius.
	q, _, _ := newQueryFixture(t, testRider("edge", 10.0105, 10.005))
	got := q.FindNearby(context.Background(), models.Location{Lat: 10.0095, Lon: 10.005}, 0.5, true, models.RiderFilters{})
	require.Len(t, got, 1)
	require.Equal(t, "edge", got[0].Rider.ID)
}

func TestFindNearby_DeduplicatesBoundaryRider(t *testing.T) {
	q, _, _ := newQueryFixture(t, testRider("edge", 10.0001, 10.0001))
	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 5, true, models.RiderFilters{})
	require.Len(t, got, 1)
}

func TestFindNearby_FallsBackWhenIndexUnbuilt(t *testing.T) {
	mem := storage.NewMemoryStore()
	mem.PutRider(testRider("a", 10.01, 10))
	idx := NewIndex(DefaultIndexConfig(), nil) // never rebuilt
	q := NewQuery(idx, mem, DefaultMaxRadiusKm, nil)

	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{})
	require.Len(t, got, 1)
}

func TestFindNearby_FallsBackWhenIndexMissesRider(t *testing.T) {
	q, mem, _ := newQueryFixture(t) // index built empty
	mem.PutRider(testRider("late", 10.01, 10))

	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{})
	require.Len(t, got, 1, "scan fallback must see riders the stale grid missed")
}

func TestFindNearby_RefreshUsesCurrentStoredLocation(t *testing.T) {
	q, mem, _ := newQueryFixture(t, testRider("mover", 10.01, 10))
	// The rider moved far away after the grid was built.
	require.NoError(t, mem.UpdateRiderLocation(context.Background(), "mover", 12, 10, time.Now()))

	got := q.FindNearby(context.Background(), models.Location{Lat: 10, Lon: 10}, 10, true, models.RiderFilters{})
	require.Empty(t, got, "selection-time refresh must drop riders that left the radius")
}

func TestFindNearby_RadiusValidation(t *testing.T) {
	q, _, _ := newQueryFixture(t,
		testRider("near", 10.01, 10),
		testRider("far", 10.6, 10), // ~67 km
	)
	center := models.Location{Lat: 10, Lon: 10}

	require.Nil(t, q.FindNearby(context.Background(), center, 0, true, models.RiderFilters{}))
	require.Nil(t, q.FindNearby(context.Background(), center, -3, true, models.RiderFilters{}))

	// An oversized radius is clamped to the hard maximum, not honored.
	got := q.FindNearby(context.Background(), center, 500, true, models.RiderFilters{})
	require.Len(t, got, 1)
	require.Equal(t, "near", got[0].Rider.ID)
}
