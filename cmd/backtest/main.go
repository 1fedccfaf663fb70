// cmd/backtest replays stored source bars from SQLite through a cold
// synthetic trend pair to check a configuration without live data.
//
// Usage:
//
//	backtest --pair 'es-nq@300=CME:ES/CME:NQ:div' --db data/synth.db
//	backtest --config synth.yaml --name es-nq --speed 100
//	backtest publish --pair ... --redis localhost:6379
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"synthtrend/config"
	"synthtrend/internal/indicator"
	"synthtrend/internal/logger"
)

type options struct {
	dbPath   string
	pairSpec string
	cfgPath  string
	name     string
	from     int
	speed    float64
	sample   int
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "backtest",
		Short:        "Replay stored source bars through a synthetic SuperTrend pair",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Init("backtest", logger.ParseLevel(opts.logLevel))
			pair, err := opts.resolvePair()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBacktest(ctx, cmd.OutOrStdout(), opts, pair, log)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.dbPath, "db", "data/synth.db", "path to SQLite database")
	f.StringVar(&opts.pairSpec, "pair", "", "compact pair spec NAME[@TF]=A_KEY/B_KEY[:FORMULA:FA:FB:PRICE:PERIOD:FACTOR]")
	f.StringVar(&opts.cfgPath, "config", "", "YAML config to take the pair from")
	f.StringVar(&opts.name, "name", "", "pair name in --config (default: first pair)")
	f.IntVar(&opts.from, "from", 0, "first bar index to replay")
	f.Float64Var(&opts.speed, "speed", 0, "playback speed multiplier (0=max, 1=realtime)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	root.Flags().IntVar(&opts.sample, "sample", 10, "print every Nth computed row (0=none)")

	root.AddCommand(newPublishCmd(opts))
	return root
}

// resolvePair picks the pair from --pair, or from --config by --name.
func (o *options) resolvePair() (indicator.PairConfig, error) {
	var pairs []indicator.PairConfig
	switch {
	case o.pairSpec != "":
		var err error
		if pairs, err = config.ParsePairs(o.pairSpec); err != nil {
			return indicator.PairConfig{}, err
		}
	case o.cfgPath != "":
		cfg, err := config.Load(o.cfgPath)
		if err != nil {
			return indicator.PairConfig{}, err
		}
		pairs = cfg.Pairs
	default:
		return indicator.PairConfig{}, errors.New("one of --pair or --config is required")
	}

	for _, p := range pairs {
		if o.name == "" || p.Name == o.name {
			p = p.WithDefaults()
			if err := p.Validate(); err != nil {
				return indicator.PairConfig{}, err
			}
			return p, nil
		}
	}
	return indicator.PairConfig{}, fmt.Errorf("pair %q not found", o.name)
}
