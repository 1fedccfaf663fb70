package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"

	"synthtrend/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// streamMaxLen keeps roughly a day of bars per stream, never fewer than 200.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	n := int64(86400/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Logger   *slog.Logger
}

// Writer publishes trend results and source bars to Redis.
type Writer struct {
	client *goredis.Client
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "redis-writer")
	log.Info("connected", "addr", cfg.Addr)
	return &Writer{client: client, log: log}, nil
}

// writeResults sends a batch in one pipeline. Confirmed bars go to the
// result stream and are published; ready ones also replace the latest key.
// Live results (forming bars) are published only.
func (w *Writer) writeResults(ctx context.Context, results []model.TrendResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range results {
		res := &results[i]
		jsonBytes := res.JSON()
		// jsonBytes is not mutated after this point
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		if !res.Live {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: res.StreamKey(),
				MaxLen: streamMaxLen(res.TF),
				Approx: true,
				Values: map[string]interface{}{"data": jsonData},
			})
			if res.Ready {
				pipe.Set(ctx, res.LatestKey(), jsonData, defaultLatestTTL)
			}
		}
		pipe.Publish(ctx, res.PubSubChannel(), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("result pipeline (%d results): %w", len(results), err)
	}
	return nil
}

// WriteResultBatch writes results and logs a failure.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.TrendResult) {
	if err := w.writeResults(ctx, results); err != nil {
		w.log.Error("write results failed", "error", err)
	}
}

// PublishSourceBars appends bars to their source streams and publishes
// forming ones for live subscribers.
func (w *Writer) PublishSourceBars(ctx context.Context, bars []model.SourceBar) error {
	if len(bars) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range bars {
		bar := &bars[i]
		jsonData := string(bar.JSON())
		if bar.Forming {
			pipe.Publish(ctx, "pub:"+bar.StreamKey(), jsonData)
			continue
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: bar.StreamKey(),
			MaxLen: streamMaxLen(bar.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bar pipeline (%d bars): %w", len(bars), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
