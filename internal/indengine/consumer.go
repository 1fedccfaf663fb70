package indengine

import (
	"context"
	"time"

	"synthtrend/internal/logger"
	"synthtrend/internal/model"
)

// consumeLoop runs the stream consumer for the engine's current source
// streams. A reload that changes the stream set cancels the inner context
// and the loop starts over with the new set.
func (svc *Service) consumeLoop(ctx context.Context) error {
	for {
		streams := svc.engine.Streams()
		cctx, cancel := context.WithCancel(ctx)
		svc.consumerMu.Lock()
		svc.consumerCancel = cancel
		svc.consumerMu.Unlock()

		svc.consumeStreams(cctx, streams)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		svc.log.Info("restarting stream consumer", "streams", svc.engine.Streams())
	}
}

// restartConsumer makes consumeLoop pick up a new stream set.
func (svc *Service) restartConsumer() {
	svc.consumerMu.Lock()
	defer svc.consumerMu.Unlock()
	if svc.consumerCancel != nil {
		svc.consumerCancel()
	}
}

func (svc *Service) consumeStreams(ctx context.Context, streams []string) {
	if len(streams) == 0 {
		svc.log.Warn("no source streams configured, waiting for reload")
		<-ctx.Done()
		return
	}

	if err := svc.redisReader.EnsureConsumerGroup(ctx, streams); err != nil {
		svc.log.Warn("consumer group setup failed", "error", err)
	}
	if err := svc.redisReader.RecoverPending(ctx, streams, svc.barCh); err != nil {
		svc.log.Warn("pending recovery failed", "error", err)
	}

	go svc.redisReader.StartPELReclaimer(ctx, streams, pelInterval, pelMinIdleMs, svc.barCh,
		func(count int) {
			svc.prom.PELReclaimed.Add(float64(count))
			svc.log.Info("reclaimed stale PEL messages", "count", count)
		})

	svc.log.Info("consuming source streams", "streams", streams)
	if err := svc.redisReader.ConsumeBars(ctx, streams, svc.barCh); err != nil && ctx.Err() == nil {
		svc.log.Error("stream consumer stopped", "error", err)
	}
}

// processLoop feeds source bars into the engine and hands the results to
// Redis and the websocket fan-out. Closed bars are also persisted to SQLite.
func (svc *Service) processLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-svc.barCh:
			if !ok {
				return nil
			}
			svc.handleBar(ctx, bar)
		}
	}
}

func (svc *Service) handleBar(ctx context.Context, bar model.SourceBar) {
	svc.prom.BarsIngested.WithLabelValues(bar.Key()).Inc()
	if !bar.TS.IsZero() {
		svc.health.SetLastBarTime(bar.TS)
		svc.prom.SourceBarsLag.Set(time.Since(bar.TS).Seconds())
	}

	if !bar.Forming && svc.sqlWriter != nil {
		select {
		case svc.persistCh <- bar:
		default:
			svc.log.Warn("sqlite queue full, bar not persisted", "source", bar.Key(), "bar", bar.BarIndex)
		}
	}

	start := time.Now()
	results := svc.engine.Process(bar)
	svc.prom.ComputeDur.Observe(time.Since(start).Seconds())
	if len(results) == 0 {
		return
	}

	svc.results.WriteResultBatch(ctx, results)
	svc.prom.ResultsPublished.Add(float64(len(results)))

	for _, r := range results {
		rctx := logger.WithTraceID(ctx, logger.GenerateTraceID(r.Pair, r.BarIndex))
		svc.log.Debug("result", append(logger.LogWithTrace(rctx),
			"pair", r.Pair, "bar", r.BarIndex, "ready", r.Ready, "live", r.Live)...)
		select {
		case svc.resultCh <- r:
		default:
		}
	}
}
