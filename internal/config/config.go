package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig carries every tunable of the assignment engine. The
// radius ladder, quality thresholds, and score weights shipped as
// constants in earlier revisions; they are untuned heuristics, so they
// live in configuration with the historical values as defaults.
type EngineConfig struct {
	LadderRadiiKm []float64
	MaxRadiusKm   float64

	IntercityMinDeliveries int
	IntercityMinRating     float64
	RelaxedMinDeliveries   int
	RelaxedMinRating       float64

	ScoreRatingWeight     float64
	ScoreDeliveriesWeight float64
	ScoreDistanceWeight   float64

	PickupLead           time.Duration
	IntercityDelivery    time.Duration
	LongDistanceDelivery time.Duration

	AssignTimeout time.Duration
}

// GridConfig carries the spatial index tunables.
type GridConfig struct {
	CellSizeDeg     float64
	BoundaryEpsDeg  float64
	RebuildInterval time.Duration
	RefreshEvery    time.Duration
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	RedisGeoKey     string
	AnalyticsStream string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	PushEndpoint string
	FCMEndpoint  string
	FCMKey       string

	OSRMEndpoint string

	Engine EngineConfig
	Grid   GridConfig

	LogLevel      string
	RunMigrations bool
}

// DefaultEngineConfig returns the historical ladder, thresholds, and
// score weights.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LadderRadiiKm:          []float64{5, 10, 15, 20},
		MaxRadiusKm:            50,
		IntercityMinDeliveries: 50,
		IntercityMinRating:     4.5,
		RelaxedMinDeliveries:   20,
		RelaxedMinRating:       4.0,
		ScoreRatingWeight:      10,
		ScoreDeliveriesWeight:  1.0 / 100,
		ScoreDistanceWeight:    0.5,
		PickupLead:             time.Hour,
		IntercityDelivery:      72 * time.Hour,
		LongDistanceDelivery:   96 * time.Hour,
		AssignTimeout:          10 * time.Second,
	}
}

// DefaultGridConfig returns ~1.1 km cells with a five minute rebuild
// throttle.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		CellSizeDeg:     0.01,
		BoundaryEpsDeg:  0.001,
		RebuildInterval: 5 * time.Minute,
		RefreshEvery:    time.Minute,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "riders_geo",
		AnalyticsStream: "analytics:events",
		KafkaTopic:      "rider-locations",
		Engine:          DefaultEngineConfig(),
		Grid:            DefaultGridConfig(),
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.AnalyticsStream, "ANALYTICS_STREAM")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMKey = os.Getenv("FCM_KEY")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	if v := os.Getenv("LADDER_RADII_KM"); v != "" {
		radii, err := parseFloats(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid LADDER_RADII_KM: %w", err))
		} else {
			cfg.Engine.LadderRadiiKm = radii
		}
	}
	setFloatFromEnv(&cfg.Engine.MaxRadiusKm, "MAX_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.Engine.IntercityMinDeliveries, "INTERCITY_MIN_DELIVERIES", &errs)
	setFloatFromEnv(&cfg.Engine.IntercityMinRating, "INTERCITY_MIN_RATING", &errs)
	setIntFromEnv(&cfg.Engine.RelaxedMinDeliveries, "RELAXED_MIN_DELIVERIES", &errs)
	setFloatFromEnv(&cfg.Engine.RelaxedMinRating, "RELAXED_MIN_RATING", &errs)
	setFloatFromEnv(&cfg.Engine.ScoreRatingWeight, "SCORE_RATING_WEIGHT", &errs)
	setFloatFromEnv(&cfg.Engine.ScoreDeliveriesWeight, "SCORE_DELIVERIES_WEIGHT", &errs)
	setFloatFromEnv(&cfg.Engine.ScoreDistanceWeight, "SCORE_DISTANCE_WEIGHT", &errs)
	setDurationFromEnv(&cfg.Engine.PickupLead, "EXPECTED_PICKUP_LEAD", &errs)
	setDurationFromEnv(&cfg.Engine.IntercityDelivery, "EXPECTED_INTERCITY_DELIVERY", &errs)
	setDurationFromEnv(&cfg.Engine.LongDistanceDelivery, "EXPECTED_LONG_DISTANCE_DELIVERY", &errs)
	setDurationFromEnv(&cfg.Engine.AssignTimeout, "ASSIGN_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.Grid.CellSizeDeg, "GRID_CELL_SIZE_DEG", &errs)
	setFloatFromEnv(&cfg.Grid.BoundaryEpsDeg, "GRID_BOUNDARY_EPS_DEG", &errs)
	setDurationFromEnv(&cfg.Grid.RebuildInterval, "GRID_REBUILD_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Grid.RefreshEvery, "GRID_REFRESH_EVERY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if len(cfg.Engine.LadderRadiiKm) == 0 {
		errs = append(errs, fmt.Errorf("LADDER_RADII_KM must name at least one radius"))
	}
	if cfg.Engine.MaxRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RADIUS_KM must be > 0"))
	}
	if cfg.Grid.CellSizeDeg <= 0 {
		errs = append(errs, fmt.Errorf("GRID_CELL_SIZE_DEG must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func parseFloats(v string) ([]float64, error) {
	parts := splitAndTrim(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
