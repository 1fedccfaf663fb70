package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"synthtrend/internal/model"
)

// resultSink is the write path the BufferedWriter protects.
type resultSink interface {
	writeResults(ctx context.Context, results []model.TrendResult) error
}

// BufferedWriter sends result batches through a circuit breaker. Batches
// that are rejected or fail are kept locally and flushed once the breaker
// closes again. Live results are never buffered; they are stale by then.
type BufferedWriter struct {
	sink   resultSink
	closer io.Closer
	cb     *CircuitBreaker
	ctx    context.Context
	log    *slog.Logger

	mu     sync.Mutex
	buffer []model.TrendResult
	maxBuf int // oldest results are dropped beyond this

	OnBuffer func(n int)     // results buffered, for metrics
	OnFlush  func(count int) // results flushed
}

// NewBufferedWriter wraps w. ctx bounds background flushes.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int, log *slog.Logger) *BufferedWriter {
	return newBufferedWriter(ctx, w, w, cb, maxBufferSize, log)
}

func newBufferedWriter(ctx context.Context, sink resultSink, closer io.Closer, cb *CircuitBreaker, maxBufferSize int, log *slog.Logger) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	if log == nil {
		log = slog.Default()
	}
	bw := &BufferedWriter{
		sink:   sink,
		closer: closer,
		cb:     cb,
		ctx:    ctx,
		log:    log.With("component", "buffered-writer"),
		buffer: make([]model.TrendResult, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.Flush()
		}
	}
	return bw
}

// WriteResultBatch writes results through the breaker, buffering them on
// rejection or failure.
func (bw *BufferedWriter) WriteResultBatch(ctx context.Context, results []model.TrendResult) {
	if len(results) == 0 {
		return
	}
	err := bw.cb.Execute(func() error { return bw.sink.writeResults(ctx, results) })
	if err == nil {
		return
	}
	if !errors.Is(err, ErrCircuitOpen) {
		bw.log.Warn("result write failed, buffering", "results", len(results), "error", err)
	}
	bw.bufferResults(results)
}

func (bw *BufferedWriter) bufferResults(results []model.TrendResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	n := 0
	for _, r := range results {
		if r.Live {
			continue
		}
		bw.buffer = append(bw.buffer, r)
		n++
	}
	if over := len(bw.buffer) - bw.maxBuf; over > 0 {
		bw.buffer = append(bw.buffer[:0], bw.buffer[over:]...)
	}
	if n > 0 && bw.OnBuffer != nil {
		bw.OnBuffer(n)
	}
}

// Flush writes every buffered result through the breaker. On failure the
// batch goes back into the buffer.
func (bw *BufferedWriter) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.TrendResult, 0, 256)
	bw.mu.Unlock()

	err := bw.cb.Execute(func() error { return bw.sink.writeResults(bw.ctx, toFlush) })
	if err != nil {
		bw.log.Warn("flush failed", "results", len(toFlush), "error", err)
		bw.mu.Lock()
		bw.buffer = append(toFlush, bw.buffer...)
		if over := len(bw.buffer) - bw.maxBuf; over > 0 {
			bw.buffer = bw.buffer[over:]
		}
		bw.mu.Unlock()
		return
	}

	bw.log.Info("flushed buffered results", "count", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered results.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close makes a last flush attempt and closes the underlying writer.
// Results still buffered after the flush are reported as lost.
func (bw *BufferedWriter) Close() error {
	bw.Flush()
	var err error
	if n := bw.PendingCount(); n > 0 {
		err = multierr.Append(err, errors.New("buffered results lost on close: "+strconv.Itoa(n)))
	}
	if bw.closer != nil {
		err = multierr.Append(err, bw.closer.Close())
	}
	return err
}
