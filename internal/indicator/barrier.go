package indicator

import (
	"sync"

	"synthtrend/internal/model"
)

// Barrier joins the two sources of a pair per bar. A recompute is released
// only once both sources have reported and agree on the bar count; anything
// else is skipped and retried on the next report.
type Barrier struct {
	mu     sync.Mutex
	counts [2]int
	latest [2]model.Quadruple
	seen   [2]bool
}

// Release is what a ready barrier hands to the recompute.
type Release struct {
	Count int
	A, B  model.Quadruple
}

// BarrierState is the serialisable form of a Barrier.
type BarrierState struct {
	Counts [2]int             `json:"counts"`
	Latest [2]model.Quadruple `json:"latest"`
	Seen   [2]bool            `json:"seen"`
}

func NewBarrier() *Barrier { return &Barrier{} }

// Report records bar barIndex from src. Revisions of an older bar than the
// source's newest are dropped as stale.
func (b *Barrier) Report(src model.SourceID, barIndex int, q model.Quadruple) (Release, Outcome) {
	if barIndex < 0 || src > model.SourceB {
		return Release{}, OutcomeStale
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := barIndex + 1
	if count < b.counts[src] {
		return Release{}, OutcomeStale
	}
	b.counts[src] = count
	b.latest[src] = q
	b.seen[src] = true

	if !b.seen[model.SourceA] || !b.seen[model.SourceB] {
		return Release{}, OutcomeNotConfigured
	}
	if b.counts[model.SourceA] != b.counts[model.SourceB] {
		return Release{}, OutcomeMismatch
	}
	return Release{Count: count, A: b.latest[model.SourceA], B: b.latest[model.SourceB]}, OutcomeComputed
}

// Truncate caps both source counts at n after the host shrank its history.
// A source cut back this way must report again before the next release.
func (b *Barrier) Truncate(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.counts {
		if b.counts[i] > n {
			b.counts[i] = n
			b.seen[i] = false
		}
	}
}

// Counts returns the latest bar count reported by each source.
func (b *Barrier) Counts() (a, bc int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[model.SourceA], b.counts[model.SourceB]
}

func (b *Barrier) State() BarrierState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BarrierState{Counts: b.counts, Latest: b.latest, Seen: b.seen}
}

func (b *Barrier) Restore(s BarrierState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = s.Counts
	b.latest = s.Latest
	b.seen = s.Seen
}
