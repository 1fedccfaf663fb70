package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// TrendResult is the per-bar output of a synthetic SuperTrend pair.
// Trend fields (ATR, Up, Down, Value, Direction) are meaningful only when
// Ready is true; before that they hold NaN and a zero Direction.
type TrendResult struct {
	Pair     string    `json:"pair"`
	TF       int       `json:"tf"`
	BarIndex int       `json:"bar_index"`
	TS       time.Time `json:"ts"`

	Source    Float `json:"source"` // combined price-type scalar
	Open      Float `json:"open"`   // synthetic OHLC
	High      Float `json:"high"`
	Low       Float `json:"low"`
	Close     Float `json:"close"`
	TrueRange Float `json:"true_range"`
	ATR       Float `json:"atr"`

	Up        Float     `json:"up"`
	Down      Float     `json:"down"`
	Value     Float     `json:"value"` // emitted trend line
	Direction Direction `json:"direction"`
	Color     string    `json:"color,omitempty"`

	Ready    bool `json:"ready"`    // ATR window filled, trend value emitted
	Tracking bool `json:"tracking"` // band ratchet active
	Live     bool `json:"live"`     // computed from a forming bar
}

// StreamKey returns the Redis stream key: "synth:{pair}:{TF}s".
func (r *TrendResult) StreamKey() string {
	return "synth:" + r.Pair + ":" + strconv.Itoa(r.TF) + "s"
}

// LatestKey returns the key holding the most recent confirmed result.
func (r *TrendResult) LatestKey() string {
	return r.StreamKey() + ":latest"
}

// PubSubChannel returns the real-time channel: "pub:synth:{pair}:{TF}s".
func (r *TrendResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// JSON returns the JSON-encoded result.
func (r *TrendResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
