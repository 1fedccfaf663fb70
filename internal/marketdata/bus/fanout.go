package bus

import (
	"context"
	"log/slog"
	"sync"

	"synthtrend/internal/model"
)

// FanOut broadcasts trend results from a single input channel to N output
// channels. If an output channel is full, the result is dropped for that
// consumer so a slow websocket client never blocks the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	outputs map[int]chan model.TrendResult
	nextID  int
	bufSize int
	closed  bool

	// OnDrop is called when a result is dropped for a subscriber.
	OnDrop func(subscriberID int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		outputs: make(map[int]chan model.TrendResult),
		bufSize: outputBufferSize,
	}
}

// Subscribe creates a new output channel and returns it with its id.
// The channel is closed by Unsubscribe or when Run returns.
func (f *FanOut) Subscribe() (int, <-chan model.TrendResult) {
	ch := make(chan model.TrendResult, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.closed {
		close(ch)
		return id, ch
	}
	f.outputs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *FanOut) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.outputs[id]; ok {
		delete(f.outputs, id)
		close(ch)
	}
}

// Publish delivers r to every subscriber without blocking.
func (f *FanOut) Publish(r model.TrendResult) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.outputs {
		select {
		case ch <- r:
		default:
			if f.OnDrop != nil {
				f.OnDrop(id)
			} else {
				slog.Debug("fanout subscriber full, dropping result", "subscriber", id, "pair", r.Pair)
			}
		}
	}
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every
// subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.TrendResult) {
	defer f.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-input:
			if !ok {
				return
			}
			f.Publish(r)
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
	f.closed = true
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the fill level of every subscriber channel.
func (f *FanOut) ChannelStats() map[int]ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make(map[int]ChannelStat, len(f.outputs))
	for id, ch := range f.outputs {
		stats[id] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
