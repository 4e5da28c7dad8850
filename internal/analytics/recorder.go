package analytics

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Recorder is a fire-and-forget event sink. Implementations swallow
// their own failures; callers never branch on the outcome.
type Recorder interface {
	TrackEvent(ctx context.Context, name string, payload map[string]any)
}

// RedisRecorder appends events to a Redis stream for downstream
// consumers to pick up.
type RedisRecorder struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisRecorder(addr, password, stream string, logger *slog.Logger) *RedisRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRecorder{client: c, stream: stream, logger: logger}
}

func (r *RedisRecorder) TrackEvent(ctx context.Context, name string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("dropping unencodable analytics event", "event", name, "error", err)
		return
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"event": name, "payload": string(body)},
	}).Err()
	if err != nil {
		r.logger.Warn("analytics event not recorded", "event", name, "error", err)
	}
}

func (r *RedisRecorder) Close() error { return r.client.Close() }

// NopRecorder discards every event. Used when no analytics backend is
// configured.
type NopRecorder struct{}

func (NopRecorder) TrackEvent(ctx context.Context, name string, payload map[string]any) {}
