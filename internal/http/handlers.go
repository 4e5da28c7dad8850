package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rider-dispatch/internal/analytics"
	"github.com/example/rider-dispatch/internal/assign"
	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/dispatch"
	"github.com/example/rider-dispatch/internal/eta"
	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/ingest"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/orderstate"
	"github.com/example/rider-dispatch/internal/storage"
)

// Store is the combined persistence surface the server wires against.
// Both the Postgres and the in-memory store satisfy it.
type Store interface {
	storage.RiderStore
	storage.OrderStore
}

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	store  Store
	index  *geo.Index
	query  *geo.Query
	engine *assign.Engine
	status *orderstate.Machine
	kafka  *ingest.KafkaProducer
	wsreg  *dispatch.WSRegistry
	eta    *eta.Service

	mux *mux.Router
}

// NewServer wires the service from configuration, degrading to
// in-memory implementations when a backend is not configured.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var store Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using in-memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	index := geo.NewIndex(geo.IndexConfig{
		CellSizeDeg:     cfg.Grid.CellSizeDeg,
		BoundaryEpsDeg:  cfg.Grid.BoundaryEpsDeg,
		RebuildInterval: cfg.Grid.RebuildInterval,
	}, logger)
	query := geo.NewQuery(index, store, cfg.Engine.MaxRadiusKm, logger)

	wsreg := dispatch.NewWSRegistry()
	var notifier dispatch.Notifier = dispatch.NewPushNotifier(cfg.PushEndpoint, wsreg)
	if cfg.FCMEndpoint != "" {
		notifier = dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
	}

	var recorder analytics.Recorder = analytics.NopRecorder{}
	if cfg.RedisAddr != "" {
		recorder = analytics.NewRedisRecorder(cfg.RedisAddr, cfg.RedisPassword, cfg.AnalyticsStream, logger)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	etaSvc := &eta.Service{SpeedKmph: eta.DefaultSpeedKmph, Logger: logger}
	if cfg.OSRMEndpoint != "" {
		etaSvc.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
		etaSvc.Cache = eta.NewCache(2 * time.Minute)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		index:  index,
		query:  query,
		engine: &assign.Engine{
			Riders:    store,
			Orders:    store,
			Query:     query,
			Notifier:  notifier,
			Analytics: recorder,
			Cfg:       cfg.Engine,
			Logger:    logger,
		},
		status: &orderstate.Machine{Orders: store, Riders: store, Logger: logger},
		kafka:  kp,
		wsreg:  wsreg,
		eta:    etaSvc,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/rider/locations", s.handleRiderLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/assign", s.handleAssign).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/status", s.handleOrderStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/riders/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{rider_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// RefreshIndex rebuilds the spatial index from the full rider set. The
// index's own throttle makes frequent calls cheap.
func (s *Server) RefreshIndex(ctx context.Context) {
	riders, err := s.store.AllRiders(ctx)
	if err != nil {
		s.logger.Error("index refresh aborted", "error", err)
		return
	}
	s.index.Rebuild(riders)
}

// RunIndexRefresher rebuilds the index on a ticker until ctx is done.
func (s *Server) RunIndexRefresher(ctx context.Context) {
	s.RefreshIndex(ctx)
	every := s.cfg.Grid.RefreshEvery
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshIndex(ctx)
		}
	}
}

type locationPing struct {
	RiderID string  `json:"rider_id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (s *Server) handleRiderLocation(w http.ResponseWriter, r *http.Request) {
	var ping locationPing
	if err := json.NewDecoder(r.Body).Decode(&ping); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ping.RiderID == "" || !geo.ValidCoords(ping.Lat, ping.Lon) {
		http.Error(w, "invalid rider location", http.StatusBadRequest)
		return
	}
	now := time.Now()
	if s.kafka != nil {
		upd := models.RiderLocationUpdate{RiderID: ping.RiderID, Lat: ping.Lat, Lon: ping.Lon, RecordedAt: now}
		if err := s.kafka.PublishLocation(upd); err != nil {
			s.logger.Warn("location ping not published", "rider_id", ping.RiderID, "error", err)
		}
	}
	if err := s.store.UpdateRiderLocation(r.Context(), ping.RiderID, ping.Lat, ping.Lon, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown rider", http.StatusNotFound)
			return
		}
		http.Error(w, "location update failed", http.StatusInternalServerError)
		return
	}
	s.RefreshIndex(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	ctx := r.Context()
	if s.cfg.Engine.AssignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Engine.AssignTimeout)
		defer cancel()
	}

	asg, err := s.engine.AssignRider(ctx, orderID)
	if err != nil {
		var vErr *assign.ValidationError
		switch {
		case errors.As(err, &vErr):
			http.Error(w, vErr.Error(), http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "unknown order", http.StatusNotFound)
		default:
			s.logger.Error("assignment attempt failed", "order_id", orderID, "error", err)
			http.Error(w, "assignment failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if asg == nil {
		json.NewEncoder(w).Encode(map[string]any{
			"assigned": false,
			"status":   models.StatusPendingAssignment,
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"assigned": true, "assignment": asg})
}

type statusUpdate struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var upd statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	order, err := s.status.Apply(r.Context(), orderID, upd.Status, upd.Note)
	if err != nil {
		var tErr *orderstate.InvalidTransitionError
		switch {
		case errors.As(err, &tErr):
			http.Error(w, tErr.Error(), http.StatusConflict)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "unknown order", http.StatusNotFound)
		default:
			s.logger.Error("order status update failed", "order_id", orderID, "error", err)
			http.Error(w, "status update failed", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !geo.ValidCoords(lat, lon) {
		http.Error(w, "invalid center coordinates", http.StatusBadRequest)
		return
	}
	radius := 5.0
	if v := q.Get("radius_km"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid radius_km", http.StatusBadRequest)
			return
		}
		radius = parsed
	}
	availableOnly := q.Get("available_only") != "false"

	center := models.Location{Lat: lat, Lon: lon}
	cands := s.query.FindNearby(r.Context(), center, radius, availableOnly, models.RiderFilters{})

	type nearbyRider struct {
		models.Candidate
		EtaMinutes float64 `json:"eta_minutes"`
	}
	riders := make([]nearbyRider, 0, len(cands))
	for _, c := range cands {
		var etaMin float64
		if c.Rider.Location != nil {
			etaMin = s.eta.TravelSeconds(r.Context(), *c.Rider.Location, center) / 60
		}
		riders = append(riders, nearbyRider{Candidate: c, EtaMinutes: etaMin})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"riders": riders})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(riderID, conn)
	go func() {
		// Read pump: drop the session when the device hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsreg.Remove(riderID)
				_ = conn.Close()
				return
			}
		}
	}()
}

func newID() string { return uuid.NewString() }
