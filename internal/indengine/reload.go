package indengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"synthtrend/config"
	"synthtrend/internal/indicator"
	"synthtrend/internal/model"
)

// decodePairs accepts a JSON array of pair configs or the compact
// SYNTH_PAIRS form. Defaults are filled and the set is validated.
func decodePairs(data []byte) ([]indicator.PairConfig, error) {
	data = bytes.TrimSpace(data)
	var pairs []indicator.PairConfig
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &pairs); err != nil {
			return nil, fmt.Errorf("decode pairs: %w", err)
		}
	} else {
		var err error
		if pairs, err = config.ParsePairs(string(data)); err != nil {
			return nil, err
		}
	}
	for i := range pairs {
		pairs[i] = pairs[i].WithDefaults()
	}
	if err := indicator.ValidateConfigs(pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// reloadResult is returned by POST /reload.
type reloadResult struct {
	Status     string   `json:"status"`
	Preserved  int      `json:"preserved"`
	Created    []string `json:"created"`
	Backfilled int      `json:"backfilled"`
}

// reload swaps in a new pair set. Pairs with unchanged sources keep their
// state; new pairs are backfilled from SQLite before they receive live bars.
// The stream consumer restarts when the set of source streams changed.
func (svc *Service) reload(ctx context.Context, pairs []indicator.PairConfig) reloadResult {
	svc.reloadMu.Lock()
	defer svc.reloadMu.Unlock()

	before := svc.engine.Streams()
	preserved, created := svc.engine.ReloadConfigs(pairs)
	svc.setPairGauges()
	svc.prom.ConfigReloads.WithLabelValues("ok").Inc()

	res := reloadResult{Status: "ok", Preserved: preserved, Created: created}
	if svc.sqlReader != nil && len(created) > 0 {
		res.Backfilled = svc.restorer.Backfill(svc.engine, svc.sqlReader, created, func(results []model.TrendResult) {
			svc.results.WriteResultBatch(ctx, results)
		})
		svc.prom.BackfilledBars.Add(float64(res.Backfilled))
	}
	svc.engine.Activate(created...)
	if !slices.Equal(before, svc.engine.Streams()) {
		svc.restartConsumer()
	}

	svc.log.Info("pairs reloaded", "preserved", preserved, "created", created, "backfilled", res.Backfilled)
	return res
}

// configSubscriber applies pair sets published on the reload channel.
func (svc *Service) configSubscriber(ctx context.Context) error {
	pubsub := svc.redisReader.SubscribeChannel(ctx, svc.cfg.ReloadChannel)
	if pubsub == nil {
		svc.log.Warn("config reload channel unavailable", "channel", svc.cfg.ReloadChannel)
		return nil
	}
	defer pubsub.Close()
	svc.log.Info("listening for config updates", "channel", svc.cfg.ReloadChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			pairs, err := decodePairs([]byte(msg.Payload))
			if err != nil {
				svc.prom.ConfigReloads.WithLabelValues("invalid").Inc()
				svc.log.Warn("rejected config update", "error", err)
				continue
			}
			svc.reload(ctx, pairs)
		}
	}
}
