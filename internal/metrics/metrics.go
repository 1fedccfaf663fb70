package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the synthetic trend engine.
type Metrics struct {
	reg *prometheus.Registry

	// Ingest
	BarsIngested  *prometheus.CounterVec // labels: source (exchange:symbol)
	DecodeErrors  *prometheus.CounterVec // labels: stream
	PELReclaimed  prometheus.Counter
	SourceBarsLag prometheus.Gauge

	// Compute
	Recomputes      *prometheus.CounterVec // labels: pair, outcome
	ComputeDur      prometheus.Histogram
	ActivePairs     prometheus.Gauge
	ConfigReloads   *prometheus.CounterVec // labels: result
	BackfilledBars  prometheus.Counter
	SnapshotsSaved  *prometheus.CounterVec // labels: store
	SnapshotFailure *prometheus.CounterVec // labels: store

	// Publish
	ResultsPublished prometheus.Counter
	FanoutDrops      *prometheus.CounterVec // labels: subscriber

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter
}

// NewMetrics creates the metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		BarsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_bars_ingested_total",
			Help: "Source bars received, by source",
		}, []string{"source"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_decode_errors_total",
			Help: "Stream messages that failed to decode",
		}, []string{"stream"}),
		PELReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),
		SourceBarsLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synth_source_bar_lag_seconds",
			Help: "Lag between the newest bar timestamp and wall clock",
		}),

		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_recomputes_total",
			Help: "Pair recompute outcomes",
		}, []string{"pair", "outcome"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_compute_duration_seconds",
			Help:    "Engine processing latency per source bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		ActivePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synth_active_pairs",
			Help: "Configured pairs",
		}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_config_reloads_total",
			Help: "Pair config reloads, by result",
		}, []string{"result"}),
		BackfilledBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_backfilled_bars_total",
			Help: "Source bars replayed into cold pairs",
		}),
		SnapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_snapshots_saved_total",
			Help: "Engine snapshots written, by store",
		}, []string{"store"}),
		SnapshotFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_snapshot_failures_total",
			Help: "Engine snapshot writes that failed, by store",
		}, []string{"store"}),

		ResultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_results_published_total",
			Help: "Trend results handed to the Redis writer",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_fanout_drops_total",
			Help: "Results dropped by the FanOut bus per subscriber",
		}, []string{"subscriber"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synth_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_redis_buffered_writes_total",
			Help: "Results buffered locally while Redis writes failed",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synth_redis_flushed_writes_total",
			Help: "Buffered results flushed after Redis recovered",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BarsIngested,
		m.DecodeErrors,
		m.PELReclaimed,
		m.SourceBarsLag,
		m.Recomputes,
		m.ComputeDur,
		m.ActivePairs,
		m.ConfigReloads,
		m.BackfilledBars,
		m.SnapshotsSaved,
		m.SnapshotFailure,
		m.ResultsPublished,
		m.FanoutDrops,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
	)
	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	LastBarTime    time.Time `json:"last_bar_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Pairs          int       `json:"pairs"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a health status with nothing checked yet.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), now: time.Now}
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	if t.After(h.LastBarTime) {
		h.LastBarTime = t
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPairs(n int) {
	h.mu.Lock()
	h.Pairs = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is cancelled.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(checkCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(checkCtx, sqlDB)
			}
			cancel()
		}
	}
}

// Report is the /healthz payload.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	LastBarTime     string  `json:"last_bar_time,omitempty"`
	BarAge          string  `json:"bar_age,omitempty"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	Pairs           int     `json:"pairs"`
}

// Report summarises health. Redis down is degraded; Redis and SQLite both
// down is unhealthy. The HTTP code is 503 for anything but healthy.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rep := Report{
		Status:          "healthy",
		Uptime:          h.now().Sub(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Pairs:           h.Pairs,
	}
	code := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		rep.Status = "unhealthy"
	}
	if !h.LastBarTime.IsZero() {
		rep.LastBarTime = h.LastBarTime.Format(time.RFC3339)
		rep.BarAge = h.now().Sub(h.LastBarTime).Round(time.Millisecond).String()
	}
	return rep, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rep)
}
