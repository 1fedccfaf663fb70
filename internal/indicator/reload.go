package indicator

import (
	"fmt"

	"go.uber.org/multierr"
)

// ReloadConfigs replaces the engine's pair set. Pairs that keep their name
// and sources keep their accumulated history and only pick up the new
// formula and ATR settings. Everything else starts cold and is held out of
// routing; the names of those pairs are returned so the caller can backfill
// them and then pass them to Activate.
func (e *Engine) ReloadConfigs(configs []PairConfig) (preserved int, created []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*SynthTrend, len(configs))
	for _, cfg := range configs {
		old, ok := e.pairs[cfg.Name]
		if ok && old.Config().SameSources(cfg) {
			old.Reconfigure(cfg)
			next[cfg.Name] = old
			preserved++
			continue
		}
		next[cfg.Name] = NewSynthTrend(cfg)
		created = append(created, cfg.Name)
		e.held[cfg.Name] = true
		delete(e.latest, cfg.Name)
	}
	for name := range e.pairs {
		if _, ok := next[name]; !ok {
			delete(e.latest, name)
			delete(e.held, name)
			e.log.Info("pair removed", "pair", name)
		}
	}

	e.pairs = next
	e.rebuildRoutes()

	e.log.Info("config reloaded", "pairs", len(configs), "preserved", preserved, "created", len(created))
	return preserved, created
}

// ValidateConfigs checks every config and rejects duplicate names.
// All problems are reported, not just the first.
func ValidateConfigs(configs []PairConfig) error {
	var err error
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if seen[cfg.Name] {
			err = multierr.Append(err, fmt.Errorf("%w: duplicate name %q", ErrInvalidPair, cfg.Name))
			continue
		}
		seen[cfg.Name] = true
		err = multierr.Append(err, cfg.Validate())
	}
	return err
}
