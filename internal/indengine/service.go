package indengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"synthtrend/config"
	"synthtrend/internal/indicator"
	"synthtrend/internal/marketdata/bus"
	"synthtrend/internal/metrics"
	"synthtrend/internal/model"
	redisstore "synthtrend/internal/store/redis"
	sqlitestore "synthtrend/internal/store/sqlite"
)

const (
	barChanSize    = 5000
	resultChanSize = 1000
	wsBufferSize   = 256

	pelInterval  = 30 * time.Second
	pelMinIdleMs = 60000

	livenessInterval = 10 * time.Second
)

// Service is the top-level orchestrator for the synthetic trend engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	engine   *indicator.Engine
	restorer *indicator.Restorer

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	breaker     *redisstore.CircuitBreaker
	results     model.ResultWriter
	snapshots   model.SnapshotStore
	sqlWriter   *sqlitestore.Writer
	sqlReader   *sqlitestore.Reader

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	fanout *bus.FanOut

	barCh     chan model.SourceBar
	persistCh chan model.SourceBar
	resultCh  chan model.TrendResult

	consumerMu     sync.Mutex
	consumerCancel context.CancelFunc

	reloadMu sync.Mutex
}

// New connects to Redis and SQLite. SQLite failures are logged and the
// service continues without persistence; Redis is required.
func New(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	svc := &Service{
		cfg:       cfg,
		log:       log.With("component", "indengine"),
		prom:      metrics.NewMetrics(),
		health:    metrics.NewHealthStatus(),
		fanout:    bus.New(wsBufferSize),
		barCh:     make(chan model.SourceBar, barChanSize),
		persistCh: make(chan model.SourceBar, barChanSize),
		resultCh:  make(chan model.TrendResult, resultChanSize),
	}

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("redis reader: %w", err)
	}
	svc.redisReader.OnDecodeError = func(stream string, err error) {
		svc.prom.DecodeErrors.WithLabelValues(stream).Inc()
	}
	svc.snapshots = svc.redisReader.Snapshots(cfg.SnapshotKey)

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   log,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, fmt.Errorf("redis writer: %w", err)
	}
	svc.health.SetRedisConnected(true)

	svc.breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, Logger: log})
	if err != nil {
		svc.log.Warn("sqlite writer init failed, continuing without persistence", "error", err)
	} else {
		svc.sqlReader = svc.sqlWriter.Reader()
		svc.health.SetSQLiteOK(true)
	}

	svc.fanout.OnDrop = func(id int) {
		svc.prom.FanoutDrops.WithLabelValues(fmt.Sprint(id)).Inc()
	}
	return svc, nil
}

// Run restores the engine, starts every subsystem and blocks until ctx is
// cancelled or a subsystem fails. A final snapshot is written on the way out.
func (svc *Service) Run(ctx context.Context) error {
	svc.restore(ctx)

	// Created once restore is done so the buffered writer's flush context
	// outlives the errgroup.
	bw := redisstore.NewBufferedWriter(ctx, svc.redisWriter, svc.breaker, 10000, svc.log)
	bw.OnBuffer = func(n int) { svc.prom.RedisBufferedWrites.Add(float64(n)) }
	bw.OnFlush = func(n int) { svc.prom.RedisFlushedWrites.Add(float64(n)) }
	svc.results = bw

	sched, err := svc.startScheduler()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.consumeLoop(gctx) })
	g.Go(func() error { return svc.processLoop(gctx) })
	g.Go(func() error {
		svc.fanout.Run(gctx, svc.resultCh)
		return nil
	})
	g.Go(func() error { return svc.redisReader.SubscribeFormingBars(gctx, svc.barCh) })
	g.Go(func() error { return svc.configSubscriber(gctx) })
	g.Go(func() error { return svc.serveHTTP(gctx) })
	g.Go(func() error {
		svc.health.RunLivenessChecker(gctx, svc.redisWriter.Client(), svc.sqlDB(), livenessInterval)
		return nil
	})
	if svc.sqlWriter != nil {
		g.Go(func() error {
			svc.sqlWriter.Run(gctx, svc.persistCh)
			return nil
		})
	}

	svc.log.Info("synthetic trend engine running",
		"pairs", len(svc.engine.Configs()),
		"streams", svc.engine.Streams(),
		"snapshot_interval", svc.cfg.SnapshotInterval.String(),
		"http", svc.cfg.HTTPAddr)

	runErr := g.Wait()
	if runErr != nil && ctx.Err() == nil {
		svc.log.Error("subsystem failed", "error", runErr)
	} else {
		runErr = nil
	}

	sched.Stop()
	return multierr.Append(runErr, svc.shutdown())
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// restore rebuilds the engine from the newest snapshot (Redis, then SQLite)
// and backfills cold pairs from persisted source bars.
func (svc *Service) restore(ctx context.Context) {
	svc.restorer = indicator.NewRestorer(svc.cfg.Pairs, svc.log)

	var sqlSnap model.SnapshotStore
	if svc.sqlWriter != nil {
		sqlSnap = svc.sqlWriter
	}
	engine, cold := svc.restorer.Restore(svc.snapshots, sqlSnap)
	svc.useEngine(engine)

	if svc.sqlReader == nil || len(cold) == 0 {
		return
	}
	n := svc.restorer.Backfill(engine, svc.sqlReader, cold, func(results []model.TrendResult) {
		svc.redisWriter.WriteResultBatch(ctx, results)
	})
	svc.prom.BackfilledBars.Add(float64(n))
	svc.log.Info("backfill complete", "pairs", cold, "bars", n)
}

func (svc *Service) useEngine(e *indicator.Engine) {
	e.OnOutcome = func(pair string, o indicator.Outcome) {
		svc.prom.Recomputes.WithLabelValues(pair, o.String()).Inc()
	}
	svc.engine = e
	svc.setPairGauges()
}

func (svc *Service) setPairGauges() {
	n := len(svc.engine.Configs())
	svc.prom.ActivePairs.Set(float64(n))
	svc.health.SetPairs(n)
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() error {
	svc.log.Info("shutting down, saving final snapshot")
	err := svc.checkpoint("shutdown")

	if svc.results != nil {
		err = multierr.Append(err, svc.results.Close())
	} else {
		err = multierr.Append(err, svc.redisWriter.Close())
	}
	if svc.sqlReader != nil {
		err = multierr.Append(err, svc.sqlReader.Close())
	}
	if svc.sqlWriter != nil {
		err = multierr.Append(err, svc.sqlWriter.Close())
	}
	err = multierr.Append(err, svc.redisReader.Close())

	if err != nil {
		svc.log.Error("shutdown finished with errors", "error", err)
	} else {
		svc.log.Info("shutdown complete")
	}
	return err
}
