package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total rider location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	sinkUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_sink_updates_total",
		Help: "Successful location sink updates",
	}, []string{"sink"})
	sinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_sink_errors_total",
		Help: "Location sink updates that failed after retries",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, sinkUpdates, sinkErrors)
}

// LocationSink applies one rider location update to a backend.
type LocationSink interface {
	Name() string
	Apply(ctx context.Context, upd models.RiderLocationUpdate) error
}

type storeSink struct{ riders storage.RiderStore }

func (s *storeSink) Name() string { return "store" }

func (s *storeSink) Apply(ctx context.Context, upd models.RiderLocationUpdate) error {
	err := s.riders.UpdateRiderLocation(ctx, upd.RiderID, upd.Lat, upd.Lon, upd.RecordedAt)
	if errors.Is(err, storage.ErrNotFound) {
		// Unknown rider won't become known by retrying.
		return backoff.Permanent(err)
	}
	return err
}

type cacheSink struct{ cache *geo.RedisLocationCache }

func (c *cacheSink) Name() string { return "redis" }

func (c *cacheSink) Apply(ctx context.Context, upd models.RiderLocationUpdate) error {
	return c.cache.Record(ctx, upd)
}

// applyWithRetry pushes the update into one sink with exponential
// backoff; permanent errors abort immediately.
func applyWithRetry(ctx context.Context, sink LocationSink, upd models.RiderLocationUpdate, maxRetries uint64, initial time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	op := func() error { return sink.Apply(ctx, upd) }
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := splitEnvList("KAFKA_BROKERS", "localhost:9092")
	topic := envOr("KAFKA_TOPIC", "rider-locations")
	group := envOr("KAFKA_GROUP", "rider-dispatch-consumer")

	var sinks []LocationSink

	var cache *geo.RedisLocationCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache = geo.NewRedisLocationCache(addr, os.Getenv("REDIS_PASSWORD"), envOr("REDIS_GEO_KEY", "riders_geo"))
		defer cache.Close()
		sinks = append(sinks, &cacheSink{cache: cache})
	}
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		ps, err := storage.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("postgres open error: %v", err)
		}
		defer ps.Close()
		sinks = append(sinks, &storeSink{riders: ps})
	}
	if len(sinks) == 0 {
		log.Fatal("no sinks configured: set REDIS_ADDR and/or PG_DSN")
	}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if cache != nil {
				if err := cache.Ping(r.Context()); err != nil {
					http.Error(w, "redis not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	readBackoff := time.Second
	const maxReadBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, readBackoff)
			time.Sleep(readBackoff)
			readBackoff *= 2
			if readBackoff > maxReadBackoff {
				readBackoff = maxReadBackoff
			}
			continue
		}
		readBackoff = time.Second

		msgsConsumed.Inc()

		var upd models.RiderLocationUpdate
		if err := json.Unmarshal(m.Value, &upd); err != nil || upd.RiderID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}
		if !geo.ValidCoords(upd.Lat, upd.Lon) {
			msgsInvalid.Inc()
			log.Printf("out-of-range coordinates for rider=%s", upd.RiderID)
			continue
		}

		for _, sink := range sinks {
			if err := applyWithRetry(ctx, sink, upd, 3, 200*time.Millisecond); err != nil {
				sinkErrors.WithLabelValues(sink.Name()).Inc()
				log.Printf("%s update failed for rider=%s: %v", sink.Name(), upd.RiderID, err)
				continue
			}
			sinkUpdates.WithLabelValues(sink.Name()).Inc()
		}
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitEnvList(key, def string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return []string{def}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{def}
	}
	return out
}
