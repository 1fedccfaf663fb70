package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Quadruple is one bar's worth of OHLC prices as float64.
type Quadruple struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// NaNQuadruple is the "no data" bar.
func NaNQuadruple() Quadruple {
	n := float64(NaN())
	return Quadruple{Open: n, High: n, Low: n, Close: n}
}

// Price extracts the scalar selected by pt.
func (q Quadruple) Price(pt PriceType) float64 {
	switch pt {
	case PriceOpen:
		return q.Open
	case PriceHigh:
		return q.High
	case PriceLow:
		return q.Low
	case PriceMedian:
		return (q.High + q.Low) / 2
	case PriceTypical:
		return (q.High + q.Low + q.Close) / 3
	case PriceWeighted:
		return (q.Open + q.High + q.Low + q.Close) / 4
	}
	return q.Close
}

type quadrupleJSON struct {
	Open  Float `json:"open"`
	High  Float `json:"high"`
	Low   Float `json:"low"`
	Close Float `json:"close"`
}

func (q Quadruple) MarshalJSON() ([]byte, error) {
	return json.Marshal(quadrupleJSON{Float(q.Open), Float(q.High), Float(q.Low), Float(q.Close)})
}

func (q *Quadruple) UnmarshalJSON(data []byte) error {
	var j quadrupleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*q = Quadruple{float64(j.Open), float64(j.High), float64(j.Low), float64(j.Close)}
	return nil
}

// SourceBar is one OHLC bar delivered by a single price source.
// BarIndex counts bars from the start of the source's history (0-based).
type SourceBar struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	TF       int       `json:"tf"` // timeframe in seconds
	BarIndex int       `json:"bar_index"`
	TS       time.Time `json:"ts"` // bar open time (UTC)
	Open     Float     `json:"open"`
	High     Float     `json:"high"`
	Low      Float     `json:"low"`
	Close    Float     `json:"close"`
	Forming  bool      `json:"forming"` // true while the bar is still being revised
}

// Key returns "exchange:symbol", the form used in pair configs.
func (b *SourceBar) Key() string {
	return b.Exchange + ":" + b.Symbol
}

// StreamKey returns the Redis stream key: "bar:{TF}s:{exchange}:{symbol}".
func (b *SourceBar) StreamKey() string {
	return BarStreamKey(b.TF, b.Key())
}

// Quadruple returns the bar prices as raw float64s.
func (b *SourceBar) Quadruple() Quadruple {
	return Quadruple{float64(b.Open), float64(b.High), float64(b.Low), float64(b.Close)}
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *SourceBar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// BarStreamKey builds the stream key for a source key ("exchange:symbol") and TF.
func BarStreamKey(tf int, sourceKey string) string {
	return "bar:" + strconv.Itoa(tf) + "s:" + sourceKey
}
