package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/model"
)

func makeBar(symbol string, tf, idx int, close float64) model.SourceBar {
	return model.SourceBar{
		Exchange: "X",
		Symbol:   symbol,
		TF:       tf,
		BarIndex: idx,
		TS:       time.Unix(int64(idx*tf), 0).UTC(),
		Open:     model.Float(close),
		High:     model.Float(close + 1),
		Low:      model.Float(close - 1),
		Close:    model.Float(close),
	}
}

func twoPairs() []PairConfig {
	spread := sumPair(2, 3)
	spread.Name = "spread"
	spread.Formula = model.FormulaDivision
	spread.SourceB = "X:CCC"
	return []PairConfig{sumPair(2, 3), spread}
}

func TestEngine_RoutesSharedSource(t *testing.T) {
	e := NewEngine(twoPairs(), nil)

	assert.Equal(t, []string{"bar:60s:X:AAA", "bar:60s:X:BBB", "bar:60s:X:CCC"}, e.Streams())

	// AAA feeds both pairs but neither has its B side yet.
	assert.Empty(t, e.Process(makeBar("AAA", 60, 0, 10)))

	res := e.Process(makeBar("BBB", 60, 0, 10))
	require.Len(t, res, 1)
	assert.Equal(t, "sum", res[0].Pair)
	assert.Equal(t, model.Float(20), res[0].Close)

	res = e.Process(makeBar("CCC", 60, 0, 5))
	require.Len(t, res, 1)
	assert.Equal(t, "spread", res[0].Pair)
	assert.Equal(t, model.Float(2), res[0].Close)

	latest, ok := e.Latest("spread")
	require.True(t, ok)
	assert.Equal(t, res[0].BarIndex, latest.BarIndex)
	assert.Equal(t, res[0].TS, latest.TS)
}

func TestEngine_IgnoresUnknownStreams(t *testing.T) {
	e := NewEngine(twoPairs(), nil)
	assert.Nil(t, e.Process(makeBar("ZZZ", 60, 0, 10)))
	assert.Nil(t, e.Process(makeBar("AAA", 300, 0, 10)), "TF not configured")
}

// A pair built from one source on both sides gets two routes, so every bar
// releases exactly one recompute.
func TestEngine_SameSourceBothSides(t *testing.T) {
	cfg := sumPair(2, 3)
	cfg.SourceB = cfg.SourceA
	e := NewEngine([]PairConfig{cfg}, nil)

	for i := 0; i < 4; i++ {
		res := e.Process(makeBar("AAA", 60, i, 10))
		require.Len(t, res, 1, "bar %d", i)
		assert.Equal(t, model.Float(20), res[0].Close)
	}
}

func TestEngine_MismatchCountsOutcome(t *testing.T) {
	e := NewEngine([]PairConfig{sumPair(2, 3)}, nil)
	outcomes := map[Outcome]int{}
	e.OnOutcome = func(pair string, o Outcome) {
		assert.Equal(t, "sum", pair)
		outcomes[o]++
	}

	e.Process(makeBar("AAA", 60, 0, 10))
	e.Process(makeBar("AAA", 60, 1, 10))
	e.Process(makeBar("BBB", 60, 0, 10)) // B behind A
	e.Process(makeBar("AAA", 60, 0, 10)) // A revising an old bar

	assert.Equal(t, map[Outcome]int{
		OutcomeNotConfigured: 2,
		OutcomeMismatch:      1,
		OutcomeStale:         1,
	}, outcomes)
	_, ok := e.Latest("sum")
	assert.False(t, ok)
}

func TestEngine_LiveFlagFollowsFormingBar(t *testing.T) {
	e := NewEngine([]PairConfig{sumPair(2, 3)}, nil)
	e.Process(makeBar("AAA", 60, 0, 10))

	b := makeBar("BBB", 60, 0, 10)
	b.Forming = true
	res := e.Process(b)
	require.Len(t, res, 1)
	assert.True(t, res[0].Live)
}

func TestEngine_Run(t *testing.T) {
	e := NewEngine([]PairConfig{sumPair(2, 3)}, nil)
	barCh := make(chan model.SourceBar, 4)
	resultCh := make(chan model.TrendResult, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, barCh, resultCh)

	barCh <- makeBar("AAA", 60, 0, 10)
	barCh <- makeBar("BBB", 60, 0, 10)

	select {
	case r := <-resultCh:
		assert.Equal(t, "sum", r.Pair)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestEngine_ReloadPreservesMatchingPairs(t *testing.T) {
	e := NewEngine(twoPairs(), nil)
	for i := 0; i < 3; i++ {
		e.Process(makeBar("AAA", 60, i, 10))
		e.Process(makeBar("BBB", 60, i, 10))
		e.Process(makeBar("CCC", 60, i, 5))
	}

	keep := sumPair(4, 2) // same sources, new ATR settings
	moved := twoPairs()[1]
	moved.SourceB = "X:DDD"
	added := sumPair(2, 3)
	added.Name = "extra"

	preserved, created := e.ReloadConfigs([]PairConfig{keep, moved, added})
	assert.Equal(t, 1, preserved)
	assert.ElementsMatch(t, []string{"spread", "extra"}, created)

	p, ok := e.Pair("sum")
	require.True(t, ok)
	assert.Equal(t, 3, p.Count())
	assert.Equal(t, 4, p.Config().ATRPeriod)

	p, _ = e.Pair("spread")
	assert.Equal(t, 0, p.Count())
	_, ok = e.Latest("spread")
	assert.False(t, ok)

	assert.Equal(t, []string{"bar:60s:X:AAA", "bar:60s:X:BBB"}, e.Streams(), "new pairs held until activated")
	e.Process(makeBar("AAA", 60, 3, 10))
	p, _ = e.Pair("extra")
	assert.Equal(t, 0, p.Count(), "held pairs get no live bars")

	e.Activate(created...)
	assert.Equal(t, []string{"bar:60s:X:AAA", "bar:60s:X:BBB", "bar:60s:X:DDD"}, e.Streams())
	assert.Empty(t, e.Process(makeBar("CCC", 60, 3, 5)))
	e.Process(makeBar("AAA", 60, 4, 10))
	e.Process(makeBar("BBB", 60, 4, 10))
	latest, ok := e.Latest("extra")
	require.True(t, ok, "extra routed after Activate")
	assert.Equal(t, 4, latest.BarIndex)
}

func TestEngine_ReloadDropsRemovedPairs(t *testing.T) {
	e := NewEngine(twoPairs(), nil)
	e.ReloadConfigs([]PairConfig{sumPair(2, 3)})

	_, ok := e.Pair("spread")
	assert.False(t, ok)
	require.Len(t, e.Configs(), 1)
}

func TestValidateConfigs(t *testing.T) {
	require.NoError(t, ValidateConfigs(twoPairs()))

	bad := sumPair(0, 3)
	dup := sumPair(2, 3)
	neg := sumPair(2, 3)
	neg.Name = "neg"
	neg.FactorB = -1
	gap := sumPair(2, 3)
	gap.Name = "gap"
	gap.MaxBarGap = -1

	err := ValidateConfigs([]PairConfig{bad, dup, neg, gap})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPair))
	assert.Contains(t, err.Error(), "atr_period=0")
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "factors must be positive")
	assert.Contains(t, err.Error(), "max_bar_gap=-1")
}

func TestPairConfig_WithDefaults(t *testing.T) {
	cfg := PairConfig{Name: "x", TF: 60, SourceA: "a", SourceB: "b", Formula: model.FormulaSum}.WithDefaults()
	assert.Equal(t, 1.0, cfg.FactorA)
	assert.Equal(t, 1.0, cfg.FactorB)
	assert.Equal(t, DefaultATRPeriod, cfg.ATRPeriod)
	assert.Equal(t, DefaultATRFactor, cfg.ATRFactor)
	assert.Equal(t, 16, cfg.MinHistoryDepth())
	assert.NoError(t, cfg.Validate())
}

func TestPairConfig_ShortName(t *testing.T) {
	base := PairConfig{SourceA: "X:AAA", SourceB: "Y:BBB", FactorA: 1, FactorB: 2, PriceType: model.PriceMedian}

	tests := []struct {
		name string
		mod  func(*PairConfig)
		want string
	}{
		{"no symbols", func(c *PairConfig) { c.SourceA, c.SourceB = "", "" }, "SuperTrendSynth Symbols not set"},
		{"no a", func(c *PairConfig) { c.SourceA = "" }, "SuperTrendSynth A symbol not set"},
		{"no b", func(c *PairConfig) { c.SourceB = "" }, "SuperTrendSynth B symbol not set"},
		{"sum", func(c *PairConfig) { c.Formula = model.FormulaSum },
			"SuperTrendSynth Formula: 1 * X:AAA[Median] + 2 * Y:BBB[Median]"},
		{"division", func(c *PairConfig) { c.Formula = model.FormulaDivision },
			"SuperTrendSynth Formula: 1 * X:AAA[Median] / 2 * Y:BBB[Median]"},
		{"percent", func(c *PairConfig) { c.Formula = model.FormulaPercent },
			"SuperTrendSynth Formula: (1 * X:AAA[Median] - 2 * Y:BBB[Median]) / 1 * X:AAA[Median] * 100"},
		{"none", func(c *PairConfig) { c.Formula = model.FormulaNone }, "SuperTrendSynth Formula: not set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mod(&cfg)
			assert.Equal(t, tt.want, cfg.ShortName())
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "computed", OutcomeComputed.String())
	assert.Equal(t, "mismatch", OutcomeMismatch.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
	assert.True(t, OutcomeWarmup.Emitted())
	assert.False(t, OutcomeStale.Emitted())
	assert.Equal(t, "out_of_range", OutcomeOutOfRange.String())
	assert.False(t, OutcomeOutOfRange.Emitted())
}
