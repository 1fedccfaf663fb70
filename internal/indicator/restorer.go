package indicator

import (
	"log/slog"

	"synthtrend/internal/marketdata/replay"
	"synthtrend/internal/model"
)

// Restorer brings an engine up to date on startup.
// Priority chain: Redis snapshot → SQLite snapshot → cold start, followed by
// a backfill of cold pairs from persisted source bars.
type Restorer struct {
	configs []PairConfig
	log     *slog.Logger
}

// NewRestorer creates a Restorer for the given pair configs.
func NewRestorer(configs []PairConfig, log *slog.Logger) *Restorer {
	if log == nil {
		log = slog.Default()
	}
	return &Restorer{configs: configs, log: log.With("component", "restorer")}
}

// Restore decodes the first usable snapshot from sources (tried in order)
// and rebuilds the engine from it. A nil entry or a nil, nil result means
// that source has nothing. Returns the pairs that still need a backfill.
func (r *Restorer) Restore(sources ...model.SnapshotStore) (*Engine, []string) {
	for i, src := range sources {
		if src == nil {
			continue
		}
		data, err := src.ReadLatestSnapshotJSON()
		if err != nil {
			r.log.Warn("snapshot read failed", "source", i, "error", err)
			continue
		}
		if data == nil {
			continue
		}
		snap, err := UnmarshalSnapshot(data)
		if err != nil {
			r.log.Warn("snapshot decode failed", "source", i, "error", err)
			continue
		}
		r.log.Info("restoring from snapshot", "source", i, "version", snap.Version,
			"stream_id", snap.StreamID, "pairs", len(snap.Pairs), "taken_at", snap.TakenAt)
		return RestoreEngine(r.configs, snap, r.log)
	}

	r.log.Info("no snapshot found, cold starting")
	return RestoreEngine(r.configs, nil, r.log)
}

// Backfill replays persisted source bars into the named pairs, oldest bar
// first. onResults, if set, receives the results of every replayed bar.
// Pairs fresh from ReloadConfigs must still be held so no live bar moves
// them ahead of the stored history. Returns the number of bars fed.
func (r *Restorer) Backfill(e *Engine, reader model.BarReader, pairs []string, onResults func([]model.TrendResult)) int {
	if reader == nil || len(pairs) == 0 {
		return 0
	}

	total := 0
	for _, name := range pairs {
		p, ok := e.Pair(name)
		if !ok {
			continue
		}
		cfg := p.Config()
		if !cfg.Configured() {
			continue
		}

		a, err := reader.ReadSourceBars(cfg.TF, cfg.SourceA, 0)
		if err != nil {
			r.log.Warn("backfill read failed", "pair", name, "source", cfg.SourceA, "error", err)
			continue
		}
		b, err := reader.ReadSourceBars(cfg.TF, cfg.SourceB, 0)
		if err != nil {
			r.log.Warn("backfill read failed", "pair", name, "source", cfg.SourceB, "error", err)
			continue
		}

		fed, emitted := 0, 0
		for _, sb := range replay.Merge(a, b) {
			res, outcome := p.Ingest(sb.Bar.BarIndex, sb.Side, sb.Bar.Quadruple())
			fed++
			if !outcome.Emitted() {
				continue
			}
			emitted++
			res.TS = sb.Bar.TS
			if onResults != nil {
				onResults([]model.TrendResult{res})
			}
			e.mu.Lock()
			e.latest[name] = res
			e.mu.Unlock()
		}
		total += fed
		if fed > 0 && emitted == 0 {
			r.log.Warn("backfill produced no results", "pair", name, "bars", fed, "count", p.Count())
		} else {
			r.log.Info("pair backfilled", "pair", name, "bars", fed, "results", emitted)
		}
	}
	return total
}
