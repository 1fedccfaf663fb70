// Package series provides the offset-indexed numeric history that backs every
// per-bar value of the synthetic SuperTrend pipeline.
//
// A Buffer holds exactly one value per bar. Offset 0 is the most recent bar,
// offset 1 the one before it, and so on. Reads past the oldest bar return NaN
// and writes past it are dropped, so callers never need to bounds-check.
package series

import (
	"math"
	"sync"
)

// FillPolicy decides what Resize appends when a buffer grows.
type FillPolicy uint8

const (
	// FillHoldLast repeats the newest value (NaN when the buffer is empty).
	FillHoldLast FillPolicy = iota
	// FillNaN appends NaN.
	FillNaN
)

func (p FillPolicy) String() string {
	if p == FillNaN {
		return "nan"
	}
	return "hold_last"
}

// Buffer is a mutex-guarded, offset-indexed float64 history.
// Each Buffer serializes its own access; there is no atomicity across buffers.
type Buffer struct {
	mu     sync.Mutex
	values []float64
	policy FillPolicy
}

// New creates an empty buffer with the given fill policy.
func New(policy FillPolicy) *Buffer {
	return &Buffer{policy: policy}
}

// Policy returns the buffer's fill policy.
func (b *Buffer) Policy() FillPolicy { return b.policy }

// Resize grows or shrinks the buffer to exactly n values.
// Growth appends per the fill policy. Shrinking drops the newest n-len
// positions and leaves every older value untouched.
func (b *Buffer) Resize(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.values) < n {
		fill := math.NaN()
		if b.policy == FillHoldLast && len(b.values) > 0 {
			fill = b.values[len(b.values)-1]
		}
		b.values = append(b.values, fill)
	}
	if n < len(b.values) {
		b.values = b.values[:n]
	}
}

// Get returns the value at offset (0 = newest). Out-of-range reads return NaN.
func (b *Buffer) Get(offset int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < 0 || offset >= len(b.values) {
		return math.NaN()
	}
	return b.values[len(b.values)-1-offset]
}

// Set writes v at offset. Out-of-range writes are silently dropped.
func (b *Buffer) Set(v float64, offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < 0 || offset >= len(b.values) {
		return
	}
	b.values[len(b.values)-1-offset] = v
}

// Len returns the number of stored values.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values)
}

// Values returns a copy of the history, oldest first.
func (b *Buffer) Values() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}

// Load replaces the history with values (oldest first).
func (b *Buffer) Load(values []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values = make([]float64, len(values))
	copy(b.values, values)
}
