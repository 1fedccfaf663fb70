package indicator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"synthtrend/internal/model"
	"synthtrend/internal/series"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// BufferSnapshot is one serialised series buffer.
type BufferSnapshot struct {
	Policy series.FillPolicy `json:"policy"`
	Values []model.Float     `json:"values"`
}

func snapBuffer(b *series.Buffer) BufferSnapshot {
	return BufferSnapshot{Policy: b.Policy(), Values: model.Floats(b.Values())}
}

// PairSnapshot holds the full state of one SynthTrend.
type PairSnapshot struct {
	Config  PairConfig                `json:"config"`
	Count   int                       `json:"count"`
	Barrier BarrierState              `json:"barrier"`
	Buffers map[string]BufferSnapshot `json:"buffers"`
}

// EngineSnapshot holds the state of every pair in an Engine.
type EngineSnapshot struct {
	StreamID string         `json:"stream_id"` // last consumed stream ID at checkpoint time
	TakenAt  time.Time      `json:"taken_at"`
	Version  int            `json:"version"`
	Pairs    []PairSnapshot `json:"pairs"`
}

// named maps snapshot keys to the pipeline's buffers.
func (s *SynthTrend) named() map[string]*series.Buffer {
	return map[string]*series.Buffer{
		"open":       s.synth.Open,
		"high":       s.synth.High,
		"low":        s.synth.Low,
		"close":      s.synth.Close,
		"true_range": s.synth.TrueRange,
		"source":     s.synth.Source,
		"atr":        s.atr.Values,
		"up":         s.trend.Up,
		"down":       s.trend.Down,
		"trend":      s.trend.Trend,
	}
}

// Snapshot captures the pipeline state.
func (s *SynthTrend) Snapshot() PairSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	named := s.named()
	snap := PairSnapshot{
		Config:  s.cfg,
		Count:   s.count,
		Barrier: s.barrier.State(),
		Buffers: make(map[string]BufferSnapshot, len(named)),
	}
	for k, b := range named {
		snap.Buffers[k] = snapBuffer(b)
	}
	return snap
}

// Restore loads a snapshot taken from a pipeline reading the same sources.
// Every buffer must be present and match the snapshot count.
func (s *SynthTrend) Restore(snap PairSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	named := s.named()
	for k, b := range named {
		bs, ok := snap.Buffers[k]
		if !ok {
			return fmt.Errorf("buffer %q missing", k)
		}
		if bs.Policy != b.Policy() {
			return fmt.Errorf("buffer %q: policy %s, want %s", k, bs.Policy, b.Policy())
		}
		if len(bs.Values) != snap.Count {
			return fmt.Errorf("buffer %q: %d values for count %d", k, len(bs.Values), snap.Count)
		}
	}
	for k, b := range named {
		b.Load(model.Float64s(snap.Buffers[k].Values))
	}
	s.count = snap.Count
	s.barrier.Restore(snap.Barrier)
	return nil
}

// SnapshotEngine captures every pair of e.
func SnapshotEngine(e *Engine, streamID string) *EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &EngineSnapshot{
		StreamID: streamID,
		TakenAt:  time.Now().UTC(),
		Version:  SnapshotVersion,
		Pairs:    make([]PairSnapshot, 0, len(e.pairs)),
	}
	for _, p := range e.pairs {
		snap.Pairs = append(snap.Pairs, p.Snapshot())
	}
	return snap
}

// MarshalSnapshot encodes a snapshot for a SnapshotStore.
func MarshalSnapshot(snap *EngineSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes a snapshot, rejecting newer schema versions.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d newer than supported %d", snap.Version, SnapshotVersion)
	}
	return &snap, nil
}

// RestoreEngine builds an engine for configs and loads the state of every
// pair whose snapshot has the same name and reads the same sources. Pairs
// with no usable snapshot start cold; their names are returned so the
// caller can backfill them.
func RestoreEngine(configs []PairConfig, snap *EngineSnapshot, log *slog.Logger) (e *Engine, cold []string) {
	e = NewEngine(configs, log)

	byName := make(map[string]PairSnapshot)
	if snap != nil {
		for _, ps := range snap.Pairs {
			byName[ps.Config.Name] = ps
		}
	}

	for _, cfg := range configs {
		p := e.pairs[cfg.Name]
		ps, ok := byName[cfg.Name]
		if !ok || !ps.Config.SameSources(cfg) {
			cold = append(cold, cfg.Name)
			continue
		}
		if err := p.Restore(ps); err != nil {
			e.log.Warn("snapshot restore failed, cold starting", "pair", cfg.Name, "error", err)
			cold = append(cold, cfg.Name)
			continue
		}
		e.log.Info("pair restored", "pair", cfg.Name, "count", ps.Count)
	}
	return e, cold
}
