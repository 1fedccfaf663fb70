package indicator

import (
	"math"

	"synthtrend/internal/series"
)

// ATRWindow is a simple moving average of true range over Period bars.
// It is a plain arithmetic mean, not Wilder smoothing.
type ATRWindow struct {
	Period int
	Values *series.Buffer
}

// NewATRWindow creates an ATR window with the given period.
func NewATRWindow(period int) *ATRWindow {
	return &ATRWindow{
		Period: period,
		Values: series.New(series.FillHoldLast),
	}
}

func (w *ATRWindow) Resize(n int) { w.Values.Resize(n) }

// Update averages the newest Period true ranges from tr, stores the result at
// offset 0 and returns it.
func (w *ATRWindow) Update(tr *series.Buffer) float64 {
	atr := Mean(tr, w.Period)
	w.Values.Set(atr, 0)
	return atr
}

// Mean returns the arithmetic mean of offsets 0..period-1 of b.
// A missing or NaN sample makes the mean NaN.
func Mean(b *series.Buffer, period int) float64 {
	if period <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += b.Get(i)
	}
	return sum / float64(period)
}
