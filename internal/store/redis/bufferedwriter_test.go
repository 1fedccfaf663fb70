package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/model"
)

type fakeSink struct {
	mu      sync.Mutex
	fail    bool
	written []model.TrendResult
	closed  bool
}

func (f *fakeSink) writeResults(_ context.Context, results []model.TrendResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFail
	}
	f.written = append(f.written, results...)
	return nil
}

func (f *fakeSink) Close() error { f.closed = true; return nil }

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func results(n int, live bool) []model.TrendResult {
	out := make([]model.TrendResult, n)
	for i := range out {
		out[i] = model.TrendResult{Pair: "p", TF: 60, BarIndex: i, Live: live}
	}
	return out
}

func TestBufferedWriter_PassThrough(t *testing.T) {
	sink := &fakeSink{}
	cb, _ := newTestBreaker(2)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 10, nil)

	bw.WriteResultBatch(context.Background(), results(3, false))
	assert.Equal(t, 3, sink.count())
	assert.Zero(t, bw.PendingCount())
}

func TestBufferedWriter_BuffersFailuresAndSkipsLive(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newTestBreaker(5)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 10, nil)

	buffered := 0
	bw.OnBuffer = func(n int) { buffered += n }

	bw.WriteResultBatch(context.Background(), results(2, false))
	bw.WriteResultBatch(context.Background(), results(3, true))

	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 2, buffered)
}

func TestBufferedWriter_DropsOldestBeyondCap(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newTestBreaker(100)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 4, nil)

	bw.WriteResultBatch(context.Background(), results(3, false))
	bw.WriteResultBatch(context.Background(), results(3, false))

	require.Equal(t, 4, bw.PendingCount())
	assert.Equal(t, 2, bw.buffer[0].BarIndex, "oldest two dropped")
}

func TestBufferedWriter_FlushesWhenBreakerCloses(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, clk := newTestBreaker(1)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 100, nil)

	flushed := make(chan int, 1)
	bw.OnFlush = func(n int) { flushed <- n }

	bw.WriteResultBatch(context.Background(), results(2, false)) // trips
	require.Equal(t, StateOpen, cb.CurrentState())
	bw.WriteResultBatch(context.Background(), results(1, false)) // rejected
	require.Equal(t, 3, bw.PendingCount())

	sink.setFail(false)
	clk.advance(11 * time.Second)
	bw.WriteResultBatch(context.Background(), results(1, false)) // trial call succeeds, closes

	select {
	case n := <-flushed:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("buffer was not flushed")
	}
	assert.Equal(t, 4, sink.count())
	assert.Zero(t, bw.PendingCount())
}

func TestBufferedWriter_CloseReportsLoss(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newTestBreaker(100)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 10, nil)

	bw.WriteResultBatch(context.Background(), results(2, false))
	err := bw.Close()
	assert.ErrorContains(t, err, "lost on close: 2")
	assert.True(t, sink.closed)
}

func TestBufferedWriter_CloseFlushes(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newTestBreaker(100)
	bw := newBufferedWriter(context.Background(), sink, sink, cb, 10, nil)

	bw.WriteResultBatch(context.Background(), results(2, false))
	sink.setFail(false)

	require.NoError(t, bw.Close())
	assert.Equal(t, 2, sink.count())
}

func TestStreamMaxLen(t *testing.T) {
	assert.Equal(t, int64(1540), streamMaxLen(60))
	assert.Equal(t, int64(200), streamMaxLen(86400))
	assert.Equal(t, int64(200), streamMaxLen(0))
}
