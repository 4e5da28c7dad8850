package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	cfg := config.ServerConfig{
		Engine: config.DefaultEngineConfig(),
		Grid:   config.DefaultGridConfig(),
	}
	s := NewServer(cfg, nil)
	mem, ok := s.store.(*storage.MemoryStore)
	require.True(t, ok, "an unconfigured server must run on the in-memory store")
	return s, mem
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHandleRiderLocation(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutRider(models.Rider{ID: "r1", Status: models.RiderAvailable})

	w := doJSON(t, s, http.MethodPost, "/internal/rider/locations", `{"rider_id":"r1","lat":10.01,"lon":10}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	rider, err := mem.RiderByID(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, rider.Location)
	require.Equal(t, 10.01, rider.Location.Lat)
}

func TestHandleRiderLocation_Rejections(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutRider(models.Rider{ID: "r1", Status: models.RiderAvailable})

	w := doJSON(t, s, http.MethodPost, "/internal/rider/locations", `{"rider_id":"r1","lat":95,"lon":10}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/internal/rider/locations", `{"rider_id":"","lat":10,"lon":10}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/internal/rider/locations", `{"rider_id":"ghost","lat":10,"lon":10}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAssign(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutRider(models.Rider{
		ID:       "r1",
		Name:     "Asha",
		Status:   models.RiderAvailable,
		Location: &models.Location{Lat: 10.01, Lon: 10, UpdatedAt: time.Now()},
	})
	mem.PutOrder(models.Order{
		ID:               "o1",
		PickupLocation:   models.Location{Lat: 10, Lon: 10},
		DistanceCategory: models.CategoryLocal,
		Status:           models.StatusPendingAssignment,
	})

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/o1/assign", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Assigned   bool              `json:"assigned"`
		Assignment models.Assignment `json:"assignment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Assigned)
	require.Equal(t, "r1", resp.Assignment.RiderID)
}

func TestHandleAssign_ManualQueue(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutOrder(models.Order{
		ID:               "o1",
		PickupLocation:   models.Location{Lat: 10, Lon: 10},
		DistanceCategory: models.CategoryLocal,
		Status:           models.StatusPendingAssignment,
	})

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/o1/assign", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Assigned bool   `json:"assigned"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Assigned)
	require.Equal(t, models.StatusPendingAssignment, resp.Status)

	order, _ := mem.OrderByID(context.Background(), "o1")
	require.True(t, order.NeedsManualAssignment)
}

func TestHandleAssign_ErrorMapping(t *testing.T) {
	s, mem := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/ghost/assign", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	mem.PutOrder(models.Order{
		ID:             "bad",
		PickupLocation: models.Location{Lat: 999, Lon: 10},
		Status:         models.StatusPendingAssignment,
	})
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/bad/assign", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOrderStatus(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutOrder(models.Order{ID: "o1", Status: models.DeliveryAccepted})

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/o1/status", `{"status":"picked_up","note":"collected"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	require.Equal(t, models.DeliveryPickedUp, order.Status)

	// A skipped step conflicts rather than failing silently.
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/o1/status", `{"status":"delivered"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/ghost/status", `{"status":"picked_up"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleNearby(t *testing.T) {
	s, mem := newTestServer(t)
	mem.PutRider(models.Rider{
		ID:       "r1",
		Status:   models.RiderAvailable,
		Location: &models.Location{Lat: 10.01, Lon: 10, UpdatedAt: time.Now()},
	})

	w := doJSON(t, s, http.MethodGet, "/api/v1/riders/nearby?lat=10&lon=10&radius_km=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Riders []struct {
			Rider      models.Rider `json:"rider"`
			DistanceKm float64      `json:"distance_km"`
			EtaMinutes float64      `json:"eta_minutes"`
		} `json:"riders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Riders, 1)
	require.Equal(t, "r1", resp.Riders[0].Rider.ID)
	require.Greater(t, resp.Riders[0].EtaMinutes, 0.0)
}

func TestHandleNearby_Rejections(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/riders/nearby?lat=abc&lon=10", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/riders/nearby?lat=10&lon=10&radius_km=-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
}
