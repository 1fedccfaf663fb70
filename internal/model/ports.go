package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the service shell from concrete storage
// implementations (Redis, SQLite).

// BarWriter persists ingested source bars.
type BarWriter interface {
	// Run reads bars from barCh and writes them in batches.
	// Blocks until ctx is cancelled or barCh is closed.
	Run(ctx context.Context, barCh <-chan SourceBar)

	// Close releases underlying resources.
	Close() error
}

// BarReader reads persisted source bars for backfill and replay.
type BarReader interface {
	// ReadSourceBars reads bars for one source key and TF with
	// bar_index >= fromIndex, ordered by bar_index.
	ReadSourceBars(tf int, sourceKey string, fromIndex int) ([]SourceBar, error)

	// Close releases underlying resources.
	Close() error
}

// ResultWriter publishes trend results.
type ResultWriter interface {
	// WriteResultBatch writes multiple results in a single batch.
	WriteResultBatch(ctx context.Context, results []TrendResult)

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// StreamConsumer consumes source bars from a stream (e.g. Redis Streams).
type StreamConsumer interface {
	// ConsumeBars reads source bars via consumer groups.
	// Blocks until ctx is cancelled.
	ConsumeBars(ctx context.Context, streams []string, out chan<- SourceBar) error

	// RecoverPending processes any unACKed messages from a previous crash.
	RecoverPending(ctx context.Context, streams []string, out chan<- SourceBar) error

	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReplayFromID reads all messages from a stream starting at a given ID.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- SourceBar) (string, error)

	// StartPELReclaimer runs periodic reclamation of stale PEL entries.
	StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration,
		minIdleMs int64, outCh chan<- SourceBar, onReclaim func(count int))

	// Close releases underlying resources.
	Close() error
}
