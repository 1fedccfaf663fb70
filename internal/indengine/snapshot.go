package indengine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/multierr"

	"synthtrend/internal/indicator"
	"synthtrend/internal/model"
)

// startScheduler registers the periodic checkpoint job.
func (svc *Service) startScheduler() (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(svc.cfg.SnapshotInterval).WaitForSchedule().Do(func() {
		if err := svc.checkpoint(streamMarker(time.Now())); err != nil {
			svc.log.Warn("checkpoint incomplete", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule snapshots: %w", err)
	}
	s.StartAsync()
	return s, nil
}

// streamMarker is a time-based stream ID recorded in snapshots.
func streamMarker(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}

type namedStore struct {
	name  string
	store model.SnapshotStore
}

// checkpoint writes an engine snapshot to every available store. A failure
// in one store does not stop the others.
func (svc *Service) checkpoint(streamID string) error {
	snap := indicator.SnapshotEngine(svc.engine, streamID)
	data, err := indicator.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	stores := []namedStore{{"redis", svc.snapshots}}
	if svc.sqlWriter != nil {
		stores = append(stores, namedStore{"sqlite", svc.sqlWriter})
	}

	var errs error
	for _, s := range stores {
		if err := s.store.SaveSnapshotJSON(data); err != nil {
			svc.prom.SnapshotFailure.WithLabelValues(s.name).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		svc.prom.SnapshotsSaved.WithLabelValues(s.name).Inc()
	}
	if errs == nil {
		svc.log.Info("checkpoint saved", "pairs", len(snap.Pairs), "bytes", len(data), "stream_id", streamID)
	}
	return errs
}
