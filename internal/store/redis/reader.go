package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"

	"synthtrend/internal/model"
)

// SnapshotTTL bounds how long a Redis snapshot survives; SQLite keeps the
// durable copy.
const SnapshotTTL = 24 * time.Hour

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "indengine"
	ConsumerName  string // unique consumer name
	Logger        *slog.Logger
}

// Reader reads source bars from Redis Streams via consumer groups and keeps
// engine snapshots under a plain key.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	log           *slog.Logger

	// OnDecodeError, if set, is called for every message that fails to decode.
	OnDecodeError func(stream string, err error)
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "indengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "redis-reader")

	log.Info("connected", "addr", cfg.Addr, "group", group, "consumer", consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		log:           log,
	}, nil
}

// Client returns the underlying client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates the consumer group on every stream if missing.
// New groups start at "0" so a fresh deployment consumes the retained history;
// the barrier drops anything already seen.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates the group at startID, or moves an existing
// group's last-delivered ID there.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if isBusyGroup(err) {
		return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
	}
	if err != nil {
		return fmt.Errorf("xgroup create from %s at %s: %w", stream, startID, err)
	}
	return nil
}

// deliver decodes msg, sends it to out and ACKs it. Undecodable messages are
// ACKed and dropped so they cannot poison the group.
func (r *Reader) deliver(ctx context.Context, stream string, msg goredis.XMessage, out chan<- model.SourceBar) error {
	bar, err := messageBar(stream, msg.Values)
	if err != nil {
		r.log.Warn("drop undecodable message", "stream", stream, "id", msg.ID, "error", err)
		if r.OnDecodeError != nil {
			r.OnDecodeError(stream, err)
		}
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
		return nil
	}

	select {
	case out <- bar:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	return nil
}

// ConsumeBars reads source bars with XREADGROUP and sends them to out.
// Read errors back off exponentially. Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.SourceBar) error {
	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	eb.MaxInterval = 10 * time.Second
	bo := backoff.WithContext(eb, ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return ctx.Err()
			}
			r.log.Warn("xreadgroup failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		for _, stream := range results {
			for _, msg := range stream.Messages {
				if err := r.deliver(ctx, stream.Stream, msg, out); err != nil {
					return err
				}
			}
		}
	}
}

// RecoverPending claims and redelivers this group's unACKed messages left by
// a previous crash, giving at-least-once delivery.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.SourceBar) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				r.log.Warn("xclaim failed", "stream", stream, "error", err)
				break
			}

			for _, msg := range claimed {
				if err := r.deliver(ctx, stream, msg, out); err != nil {
					return err
				}
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages XCLAIMs PEL entries idle longer than minIdleMs that
// belong to other consumers of the group.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdleMs int64, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	r.log.Info("reclaimed stale PEL entries", "stream", stream, "count", len(claimed))
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale PEL entries on all streams and
// redelivers them to outCh. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration, minIdleMs int64, outCh chan<- model.SourceBar, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdleMs, 50)
				if err != nil {
					r.log.Warn("PEL reclaim failed", "stream", stream, "error", err)
					continue
				}
				for _, msg := range claimed {
					if err := r.deliver(ctx, stream, msg, outCh); err != nil {
						return
					}
					total++
				}
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReplayFromID reads every message after startID (exclusive) and sends the
// decoded bars to out. Returns the last ID read.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.SourceBar) (string, error) {
	const page = 1000
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", page).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range results {
			lastID = msg.ID
			bar, err := messageBar(stream, msg.Values)
			if err != nil {
				continue
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < page {
			return lastID, nil
		}
	}
}

// SubscribeFormingBars forwards forming bars published on pub:bar:* to out
// for live recomputes. Closed bars arrive through the stream consumer, so
// they are ignored here. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingBars(ctx context.Context, out chan<- model.SourceBar) error {
	pubsub := r.client.PSubscribe(ctx, "pub:bar:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			bar, err := DecodeSourceBar(strings.TrimPrefix(msg.Channel, "pub:"), []byte(msg.Payload))
			if err != nil || !bar.Forming {
				continue
			}
			select {
			case out <- bar:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Pub/Sub channel and waits for the
// confirmation. Returns nil if the subscription failed.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		r.log.Warn("subscribe failed", "channel", channel, "error", err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Snapshots returns a SnapshotStore keeping snapshots under key.
func (r *Reader) Snapshots(key string) *SnapshotStore {
	return &SnapshotStore{client: r.client, key: key}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

// SnapshotStore implements model.SnapshotStore on a single Redis key.
type SnapshotStore struct {
	client *goredis.Client
	key    string
}

// SaveSnapshotJSON stores data with SnapshotTTL.
func (s *SnapshotStore) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", s.key, err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns nil, nil when no snapshot exists.
func (s *SnapshotStore) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot %s: %w", s.key, err)
	}
	return data, nil
}
