package indicator

import (
	"synthtrend/internal/model"
	"synthtrend/internal/series"
)

// State is the SuperTrend lifecycle stage.
type State uint8

const (
	// StateWarmingUp emits basic bands with no ratchet.
	StateWarmingUp State = iota
	// StateTracking ratchets bands against the previous bar.
	StateTracking
)

func (s State) String() string {
	if s == StateTracking {
		return "tracking"
	}
	return "warming_up"
}

// StepInput is everything one SuperTrend step reads.
type StepInput struct {
	Source    float64 // current combined source scalar
	ATR       float64
	Factor    float64 // ATR multiplier
	Close     float64 // current synthetic close
	PrevClose float64 // previous synthetic close
	PrevUp    float64
	PrevDown  float64
	PrevTrend float64 // previous emitted trend value
	State     State
}

// Bands is the result of one SuperTrend step.
type Bands struct {
	Up        float64
	Down      float64
	Value     float64 // emitted trend value
	Direction model.Direction
	State     State
}

// Step runs one bar of the band ratchet and direction machine.
//
// While warming up the bands are the basic bands and the direction is Rising.
// Once tracking, the upper band only moves down (or resets when the previous
// close broke above it) and the lower band mirrors that. Rising emits Up,
// Falling emits Down. Comparisons are exact, so a NaN previous band is
// carried forward unchanged.
func Step(in StepInput) Bands {
	up := in.Source + in.Factor*in.ATR
	down := in.Source - in.Factor*in.ATR
	dir := model.DirectionRising

	if in.State == StateTracking {
		if !(up < in.PrevUp || in.PrevClose > in.PrevUp) {
			up = in.PrevUp
		}
		if !(down > in.PrevDown || in.PrevClose < in.PrevDown) {
			down = in.PrevDown
		}

		if in.PrevTrend == in.PrevUp {
			if in.Close > up {
				dir = model.DirectionFalling
			}
		} else if !(in.Close < down) {
			dir = model.DirectionFalling
		}
	}

	value := up
	if dir == model.DirectionFalling {
		value = down
	}
	return Bands{Up: up, Down: down, Value: value, Direction: dir, State: in.State}
}

// SuperTrend holds the band and trend-line history of one pair.
type SuperTrend struct {
	Period int     // ATR period, drives the warm-up gate
	Factor float64 // ATR multiplier

	Up    *series.Buffer
	Down  *series.Buffer
	Trend *series.Buffer
}

// NewSuperTrend creates an engine for the given ATR period and multiplier.
func NewSuperTrend(period int, factor float64) *SuperTrend {
	return &SuperTrend{
		Period: period,
		Factor: factor,
		Up:     series.New(series.FillHoldLast),
		Down:   series.New(series.FillHoldLast),
		Trend:  series.New(series.FillNaN),
	}
}

func (s *SuperTrend) Resize(n int) {
	s.Up.Resize(n)
	s.Down.Resize(n)
	s.Trend.Resize(n)
}

// StateAt returns the state for a bar count. Tracking begins once more than
// Period+2 bars exist and never reverts while the count keeps growing.
func (s *SuperTrend) StateAt(count int) State {
	if count > s.Period+2 {
		return StateTracking
	}
	return StateWarmingUp
}

// Update runs Step for the newest bar and stores the bands and trend value.
func (s *SuperTrend) Update(count int, source, atr, close, prevClose float64) Bands {
	in := StepInput{
		Source:    source,
		ATR:       atr,
		Factor:    s.Factor,
		Close:     close,
		PrevClose: prevClose,
		State:     s.StateAt(count),
	}
	if in.State == StateTracking {
		in.PrevUp = s.Up.Get(1)
		in.PrevDown = s.Down.Get(1)
		in.PrevTrend = s.Trend.Get(1)
	}

	bands := Step(in)
	s.Up.Set(bands.Up, 0)
	s.Down.Set(bands.Down, 0)
	s.Trend.Set(bands.Value, 0)
	return bands
}
