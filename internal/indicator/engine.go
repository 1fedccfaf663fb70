package indicator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"synthtrend/internal/model"
)

// route sends bars of one source stream to one side of one pair.
type route struct {
	pair *SynthTrend
	side model.SourceID
}

// routeKey identifies a source stream: TF plus "exchange:symbol".
type routeKey struct {
	tf  int
	src string
}

// Engine runs every configured pair and routes incoming source bars to them.
// A source may feed several pairs, and a pair whose two sides are the same
// source gets one route per side.
type Engine struct {
	mu     sync.RWMutex
	pairs  map[string]*SynthTrend
	routes map[routeKey][]route
	latest map[string]model.TrendResult
	// held pairs exist but get no live bars until Activate.
	held map[string]bool

	// OnOutcome, if set, is called for every ingest with the pair name and
	// what the ingest did. Used for metrics.
	OnOutcome func(pair string, o Outcome)

	log *slog.Logger
}

// NewEngine creates an engine with a cold pipeline per config.
func NewEngine(configs []PairConfig, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		pairs:  make(map[string]*SynthTrend, len(configs)),
		latest: make(map[string]model.TrendResult, len(configs)),
		held:   make(map[string]bool),
		log:    log.With("component", "indicator"),
	}
	for _, cfg := range configs {
		e.pairs[cfg.Name] = NewSynthTrend(cfg)
	}
	e.rebuildRoutes()
	return e
}

// rebuildRoutes must be called with e.mu held for writing (or before the
// engine is shared).
func (e *Engine) rebuildRoutes() {
	e.routes = make(map[routeKey][]route, 2*len(e.pairs))
	for name, p := range e.pairs {
		cfg := p.Config()
		if !cfg.Configured() || e.held[name] {
			continue
		}
		ka := routeKey{cfg.TF, cfg.SourceA}
		kb := routeKey{cfg.TF, cfg.SourceB}
		e.routes[ka] = append(e.routes[ka], route{pair: p, side: model.SourceA})
		e.routes[kb] = append(e.routes[kb], route{pair: p, side: model.SourceB})
	}
}

// Process feeds one source bar into every pair that reads it and returns
// the results of the pairs that recomputed.
func (e *Engine) Process(bar model.SourceBar) []model.TrendResult {
	e.mu.RLock()
	routes := e.routes[routeKey{bar.TF, bar.Key()}]
	e.mu.RUnlock()
	if len(routes) == 0 {
		return nil
	}

	q := bar.Quadruple()
	var results []model.TrendResult
	for _, r := range routes {
		res, outcome := r.pair.Ingest(bar.BarIndex, r.side, q)
		name := r.pair.Config().Name
		if e.OnOutcome != nil {
			e.OnOutcome(name, outcome)
		}
		if !outcome.Emitted() {
			e.log.Debug("skip", "pair", name, "bar", bar.BarIndex, "side", r.side.String(), "outcome", outcome.String())
			continue
		}
		res.TS = bar.TS
		res.Live = bar.Forming
		results = append(results, res)

		e.mu.Lock()
		e.latest[name] = res
		e.mu.Unlock()
	}
	return results
}

// Run consumes source bars and emits results until ctx is done or barCh closes.
// Results are dropped when resultCh is full.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.SourceBar, resultCh chan<- model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			for _, r := range e.Process(bar) {
				select {
				case resultCh <- r:
				default:
				}
			}
		}
	}
}

// Activate starts routing live bars to pairs held back by ReloadConfigs.
func (e *Engine) Activate(names ...string) {
	if len(names) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		delete(e.held, name)
	}
	e.rebuildRoutes()
}

// Latest returns the most recent result of a pair.
func (e *Engine) Latest(name string) (model.TrendResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.latest[name]
	return r, ok
}

// Pair returns the pipeline of a pair.
func (e *Engine) Pair(name string) (*SynthTrend, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairs[name]
	return p, ok
}

// Configs returns the configs of all pairs sorted by name.
func (e *Engine) Configs() []PairConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PairConfig, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p.Config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Streams returns the distinct source bar streams the engine reads.
func (e *Engine) Streams() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.routes))
	for k := range e.routes {
		out = append(out, model.BarStreamKey(k.tf, k.src))
	}
	sort.Strings(out)
	return out
}
