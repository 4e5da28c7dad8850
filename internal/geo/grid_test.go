package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rider-dispatch/internal/models"
)

func testRider(id string, lat, lon float64) models.Rider {
	return models.Rider{
		ID:       id,
		Status:   models.RiderAvailable,
		Location: &models.Location{Lat: lat, Lon: lon, UpdatedAt: time.Now()},
	}
}

func TestIndex_SnapshotNilBeforeFirstBuild(t *testing.T) {
	x := NewIndex(DefaultIndexConfig(), nil)
	require.Nil(t, x.Snapshot())
}

func TestIndex_RebuildThrottle(t *testing.T) {
	x := NewIndex(DefaultIndexConfig(), nil)
	now := time.Unix(1700000000, 0)
	x.now = func() time.Time { return now }

	require.True(t, x.Rebuild([]models.Rider{testRider("a", 10, 10)}))
	require.False(t, x.Rebuild([]models.Rider{testRider("b", 10, 10)}), "second rebuild inside the interval must be a no-op")
	require.Equal(t, 1, x.Snapshot().Indexed())

	now = now.Add(5*time.Minute + time.Second)
	require.True(t, x.Rebuild([]models.Rider{testRider("a", 10, 10), testRider("b", 10, 10)}))
	require.Equal(t, 2, x.Snapshot().Indexed())
}

func TestIndex_OldSnapshotSurvivesRebuild(t *testing.T) {
	x := NewIndex(DefaultIndexConfig(), nil)
	now := time.Unix(1700000000, 0)
	x.now = func() time.Time { return now }

	x.Rebuild([]models.Rider{testRider("a", 10, 10)})
	old := x.Snapshot()

	now = now.Add(10 * time.Minute)
	x.Rebuild(nil)

	require.Equal(t, 1, old.Indexed(), "a published grid is immutable")
	require.Equal(t, 0, x.Snapshot().Indexed())
}

func TestIndex_ExcludesRidersWithoutUsableCoordinates(t *testing.T) {
	x := NewIndex(DefaultIndexConfig(), nil)
	noLoc := models.Rider{ID: "missing", Status: models.RiderAvailable}
	bad := testRider("bad", 95, 10)
	x.Rebuild([]models.Rider{testRider("ok", 10, 10), noLoc, bad})
	require.Equal(t, 1, x.Snapshot().Indexed())
}

func TestCellsForPoint_InteriorPointSingleCell(t *testing.T) {
	keys := cellsForPoint(10.005, 20.005, 0.01, 0.001)
	require.Len(t, keys, 1)
	require.Equal(t, cellKey{LatIdx: 1000, LonIdx: 2000}, keys[0])
}

func TestCellsForPoint_NearLatEdgeDuplicates(t *testing.T) {
	keys := cellsForPoint(10.0001, 20.005, 0.01, 0.001)
	require.Len(t, keys, 2)
	require.Contains(t, keys, cellKey{LatIdx: 1000, LonIdx: 2000})
	require.Contains(t, keys, cellKey{LatIdx: 999, LonIdx: 2000})
}

func TestCellsForPoint_NearCornerDuplicatesDiagonal(t *testing.T) {
	keys := cellsForPoint(10.0001, 20.0001, 0.01, 0.001)
	require.Len(t, keys, 4)
	require.Contains(t, keys, cellKey{LatIdx: 999, LonIdx: 1999}, "diagonal cell must be covered")
}

func TestCellsForPoint_WrapsAcrossAntimeridian(t *testing.T) {
	keys := cellsForPoint(0.005, 179.9999, 0.01, 0.001)
	require.Len(t, keys, 2)
	require.Contains(t, keys, cellKey{LatIdx: 0, LonIdx: 17999})
	require.Contains(t, keys, cellKey{LatIdx: 0, LonIdx: -18000}, "eastern neighbor wraps to the far side")
}

func TestWrapLonIdx(t *testing.T) {
	require.Equal(t, -18000, wrapLonIdx(18000, 0.01))
	require.Equal(t, 17999, wrapLonIdx(-18001, 0.01))
	require.Equal(t, 0, wrapLonIdx(0, 0.01))
}
