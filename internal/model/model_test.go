package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat_JSON(t *testing.T) {
	tests := []struct {
		in   Float
		want string
	}{
		{1.5, `1.5`},
		{NaN(), `null`},
		{Float(math.Inf(1)), `"+Inf"`},
		{Float(math.Inf(-1)), `"-Inf"`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}

	var f Float
	require.NoError(t, json.Unmarshal([]byte(`"12.25"`), &f))
	assert.Equal(t, Float(12.25), f)
	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.True(t, math.IsNaN(float64(f)))
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
}

func TestQuadruple_Price(t *testing.T) {
	q := Quadruple{Open: 1, High: 4, Low: 2, Close: 3}
	tests := map[PriceType]float64{
		PriceClose:    3,
		PriceOpen:     1,
		PriceHigh:     4,
		PriceLow:      2,
		PriceMedian:   3,
		PriceTypical:  3,
		PriceWeighted: 2.5,
	}
	for pt, want := range tests {
		assert.Equal(t, want, q.Price(pt), pt.String())
	}
}

func TestKeys(t *testing.T) {
	b := SourceBar{Exchange: "CME", Symbol: "ES", TF: 300}
	assert.Equal(t, "CME:ES", b.Key())
	assert.Equal(t, "bar:300s:CME:ES", b.StreamKey())

	r := TrendResult{Pair: "es-nq", TF: 300}
	assert.Equal(t, "synth:es-nq:300s", r.StreamKey())
	assert.Equal(t, "synth:es-nq:300s:latest", r.LatestKey())
	assert.Equal(t, "pub:synth:es-nq:300s", r.PubSubChannel())
}

func TestTrendResult_JSONCarriesNaNAsNull(t *testing.T) {
	r := TrendResult{Pair: "p", TS: time.Unix(0, 0).UTC(), ATR: NaN(), Direction: DirectionFalling}
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.JSON(), &m))
	assert.Nil(t, m["atr"])
	assert.Equal(t, "falling", m["direction"])
}

func TestParseNames(t *testing.T) {
	f, err := ParseFormula("DIV")
	require.NoError(t, err)
	assert.Equal(t, FormulaDivision, f)
	_, err = ParseFormula("mul")
	assert.Error(t, err)

	p, err := ParsePriceType("hlc3")
	require.NoError(t, err)
	assert.Equal(t, PriceTypical, p)

	assert.Equal(t, "green", DirectionFalling.Color())
	assert.Equal(t, "red", DirectionRising.Color())
}
