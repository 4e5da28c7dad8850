package eta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rider-dispatch/internal/models"
)

type fakeClient struct {
	seconds float64
	err     error
	calls   int
}

func (f *fakeClient) TravelSeconds(ctx context.Context, from, to models.Location) (float64, error) {
	f.calls++
	return f.seconds, f.err
}

func TestTravelSeconds_StraightLineFallback(t *testing.T) {
	s := &Service{SpeedKmph: 25}
	// ~1.11 km apart; at 25 km/h that is ~160 seconds.
	got := s.TravelSeconds(context.Background(), models.Location{Lat: 10, Lon: 10}, models.Location{Lat: 10.01, Lon: 10})
	require.InDelta(t, 160, got, 2)
}

func TestTravelSeconds_ZeroSpeedUsesDefault(t *testing.T) {
	s := &Service{}
	got := s.TravelSeconds(context.Background(), models.Location{Lat: 10, Lon: 10}, models.Location{Lat: 10.01, Lon: 10})
	require.Greater(t, got, 0.0)
}

func TestTravelSeconds_PrefersClientAndCaches(t *testing.T) {
	fc := &fakeClient{seconds: 420}
	s := &Service{Client: fc, Cache: NewCache(time.Minute), SpeedKmph: 25}
	from := models.Location{Lat: 10, Lon: 10}
	to := models.Location{Lat: 10.05, Lon: 10}

	require.Equal(t, 420.0, s.TravelSeconds(context.Background(), from, to))
	require.Equal(t, 420.0, s.TravelSeconds(context.Background(), from, to))
	require.Equal(t, 1, fc.calls, "second lookup must be served from cache")
}

func TestTravelSeconds_ClientErrorFallsBack(t *testing.T) {
	fc := &fakeClient{err: errors.New("routing down")}
	s := &Service{Client: fc, SpeedKmph: 25}
	got := s.TravelSeconds(context.Background(), models.Location{Lat: 10, Lon: 10}, models.Location{Lat: 10.01, Lon: 10})
	require.InDelta(t, 160, got, 2)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Nanosecond)
	a := models.Location{Lat: 1, Lon: 1}
	b := models.Location{Lat: 2, Lon: 2}
	c.set(a, b, 99)
	time.Sleep(time.Millisecond)
	_, ok := c.get(a, b)
	require.False(t, ok)
}
