package indicator

import (
	"math"

	"synthtrend/internal/model"
	"synthtrend/internal/series"
)

// SynthBar is one synthetic bar plus its true range and source scalar.
type SynthBar struct {
	Open, High, Low, Close float64
	TrueRange              float64
	Source                 float64
}

// SynthBuilder combines two raw source bars into the synthetic series.
// OHLC and true range hold their last value on growth; the source line
// starts as NaN for every new bar.
type SynthBuilder struct {
	Open      *series.Buffer
	High      *series.Buffer
	Low       *series.Buffer
	Close     *series.Buffer
	TrueRange *series.Buffer
	Source    *series.Buffer
}

// NewSynthBuilder creates a builder with empty buffers.
func NewSynthBuilder() *SynthBuilder {
	return &SynthBuilder{
		Open:      series.New(series.FillHoldLast),
		High:      series.New(series.FillHoldLast),
		Low:       series.New(series.FillHoldLast),
		Close:     series.New(series.FillHoldLast),
		TrueRange: series.New(series.FillHoldLast),
		Source:    series.New(series.FillNaN),
	}
}

// Resize tracks the bar count on every buffer.
func (s *SynthBuilder) Resize(n int) {
	for _, b := range s.buffers() {
		b.Resize(n)
	}
}

// Update computes the synthetic bar for the newest slot (offset 0) from the
// source bars a and b, writes it into the buffers and returns it.
//
// High and Low take the pairwise extremes of the combined lows and highs
// because Division can invert ordering. The true range reads the previous
// synthetic close at offset 1, which is NaN on the first bar; the NaN flows
// through math.Max and leaves that bar's true range NaN.
func (s *SynthBuilder) Update(a, b model.Quadruple, p Params, pt model.PriceType) SynthBar {
	lows := p.Apply(a.Low, b.Low)
	highs := p.Apply(a.High, b.High)

	bar := SynthBar{
		Open:   p.Apply(a.Open, b.Open),
		High:   math.Max(lows, highs),
		Low:    math.Min(lows, highs),
		Close:  p.Apply(a.Close, b.Close),
		Source: p.Apply(a.Price(pt), b.Price(pt)),
	}

	s.Source.Set(bar.Source, 0)
	s.Open.Set(bar.Open, 0)
	s.High.Set(bar.High, 0)
	s.Low.Set(bar.Low, 0)
	s.Close.Set(bar.Close, 0)

	bar.TrueRange = TrueRange(s.High.Get(0), s.Low.Get(0), s.Close.Get(1))
	s.TrueRange.Set(bar.TrueRange, 0)
	return bar
}

// TrueRange is max(high−low, |high−prevClose|, |low−prevClose|).
// NaN in any input yields NaN.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func (s *SynthBuilder) buffers() []*series.Buffer {
	return []*series.Buffer{s.Open, s.High, s.Low, s.Close, s.TrueRange, s.Source}
}
