package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"synthtrend/config"
	"synthtrend/internal/indengine"
	"synthtrend/internal/logger"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("SYNTH_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Logger level is not known yet; use the default.
		logger.Init("indengine", logger.ParseLevel("info")).Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.Init("indengine", logger.ParseLevel(cfg.LogLevel))
	log.Info("config loaded", "path", *cfgPath, "pairs", len(cfg.Pairs),
		"tfs", cfg.TFs(), "snapshot_interval", cfg.SnapshotInterval.String())

	svc, err := indengine.New(cfg, log)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Error("exited with error", "error", err)
		os.Exit(1)
	}
}
