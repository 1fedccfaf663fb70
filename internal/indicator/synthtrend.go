package indicator

import (
	"math"
	"strconv"
	"sync"

	"synthtrend/internal/model"
)

// Outcome classifies what a single Ingest did.
type Outcome uint8

const (
	// OutcomeComputed: the current bar was recomputed and the trend emitted.
	OutcomeComputed Outcome = iota
	// OutcomeWarmup: the synthetic bar was computed but the ATR window is
	// not full yet, so no trend value exists.
	OutcomeWarmup
	// OutcomeNotConfigured: a source is unset or has not reported yet.
	OutcomeNotConfigured
	// OutcomeMismatch: the sources disagree on bar count; retried on the next report.
	OutcomeMismatch
	// OutcomeStale: the report revised a bar older than the source's newest.
	OutcomeStale
	// OutcomeOutOfRange: the bar index jumps further past the pipeline's
	// bar count than the pair's max_bar_gap allows.
	OutcomeOutOfRange
)

var outcomeNames = [...]string{
	OutcomeComputed:      "computed",
	OutcomeWarmup:        "warmup",
	OutcomeNotConfigured: "not_configured",
	OutcomeMismatch:      "mismatch",
	OutcomeStale:         "stale",
	OutcomeOutOfRange:    "out_of_range",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "outcome(" + strconv.Itoa(int(o)) + ")"
}

// Emitted reports whether the outcome produced a result worth publishing.
func (o Outcome) Emitted() bool { return o == OutcomeComputed || o == OutcomeWarmup }

// SynthTrend is the full pipeline of one pair: barrier, synthetic series,
// ATR window and SuperTrend. It is safe for concurrent Ingest from the two
// source producers: each report and the recompute it releases run in one
// critical section, so the newest revision of a bar is always the one kept.
type SynthTrend struct {
	mu      sync.Mutex
	cfg     PairConfig
	count   int
	barrier *Barrier
	synth   *SynthBuilder
	atr     *ATRWindow
	trend   *SuperTrend
}

// NewSynthTrend creates a cold pipeline for cfg.
func NewSynthTrend(cfg PairConfig) *SynthTrend {
	return &SynthTrend{
		cfg:     cfg,
		barrier: NewBarrier(),
		synth:   NewSynthBuilder(),
		atr:     NewATRWindow(cfg.ATRPeriod),
		trend:   NewSuperTrend(cfg.ATRPeriod, cfg.ATRFactor),
	}
}

// Config returns the current configuration.
func (s *SynthTrend) Config() PairConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Count returns the number of bars the pipeline buffers currently hold.
func (s *SynthTrend) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reconfigure swaps formula and ATR settings. They take effect from the next
// recompute; stored history is not rewritten. Callers that change the
// sources should build a fresh SynthTrend instead.
func (s *SynthTrend) Reconfigure(cfg PairConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.atr.Period = cfg.ATRPeriod
	s.trend.Period = cfg.ATRPeriod
	s.trend.Factor = cfg.ATRFactor
}

// ShortName is the legend text for the current config.
func (s *SynthTrend) ShortName() string { return s.Config().ShortName() }

// MinHistoryDepth is the number of bars needed before the trend tracks.
func (s *SynthTrend) MinHistoryDepth() int { return s.Config().MinHistoryDepth() }

// Resize follows a host bar-count change. Shrinking truncates every buffer
// from the newest end and rewinds the barrier.
func (s *SynthTrend) Resize(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resize(count)
	s.barrier.Truncate(count)
}

func (s *SynthTrend) resize(n int) {
	s.count = n
	s.synth.Resize(n)
	s.atr.Resize(n)
	s.trend.Resize(n)
}

// Ingest reports bar barIndex of source src. When both sources agree on the
// bar count the newest bar is recomputed and returned.
func (s *SynthTrend) Ingest(barIndex int, src model.SourceID, q model.Quadruple) (model.TrendResult, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Configured() {
		return model.TrendResult{}, OutcomeNotConfigured
	}
	if barIndex-s.count >= s.cfg.barGap() {
		return model.TrendResult{}, OutcomeOutOfRange
	}

	rel, outcome := s.barrier.Report(src, barIndex, q)
	if outcome != OutcomeComputed {
		return model.TrendResult{}, outcome
	}
	return s.recompute(rel)
}

// recompute must be called with s.mu held.
func (s *SynthTrend) recompute(rel Release) (model.TrendResult, Outcome) {
	if rel.Count == 0 {
		return model.TrendResult{}, OutcomeNotConfigured
	}
	if rel.Count != s.count {
		s.resize(rel.Count)
	}

	cfg := s.cfg
	bar := s.synth.Update(rel.A, rel.B, cfg.Params(), cfg.PriceType)

	nan := model.NaN()
	res := model.TrendResult{
		Pair:      cfg.Name,
		TF:        cfg.TF,
		BarIndex:  rel.Count - 1,
		Source:    model.Float(bar.Source),
		Open:      model.Float(bar.Open),
		High:      model.Float(bar.High),
		Low:       model.Float(bar.Low),
		Close:     model.Float(bar.Close),
		TrueRange: model.Float(bar.TrueRange),
		ATR:       nan,
		Up:        nan,
		Down:      nan,
		Value:     nan,
	}

	if rel.Count <= cfg.ATRPeriod {
		s.atr.Values.Set(math.NaN(), 0)
		return res, OutcomeWarmup
	}

	atr := s.atr.Update(s.synth.TrueRange)
	bands := s.trend.Update(rel.Count, bar.Source, atr, bar.Close, s.synth.Close.Get(1))

	res.ATR = model.Float(atr)
	res.Up = model.Float(bands.Up)
	res.Down = model.Float(bands.Down)
	res.Value = model.Float(bands.Value)
	res.Direction = bands.Direction
	res.Color = bands.Direction.Color()
	res.Ready = true
	res.Tracking = bands.State == StateTracking
	return res, OutcomeComputed
}
