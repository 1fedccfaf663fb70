package redis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/model"
)

func TestDecodeSourceBar_NumbersAndStrings(t *testing.T) {
	data := `{"exchange":"CME","symbol":"ES","tf":60,"bar_index":42,
		"ts":"2024-03-01T14:30:00Z","open":5100.25,"high":"5102.5","low":5099,"close":"5101","forming":true}`

	bar, err := DecodeSourceBar("bar:60s:CME:ES", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, model.SourceBar{
		Exchange: "CME",
		Symbol:   "ES",
		TF:       60,
		BarIndex: 42,
		TS:       time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Open:     5100.25,
		High:     5102.5,
		Low:      5099,
		Close:    5101,
		Forming:  true,
	}, bar)
}

func TestDecodeSourceBar_FallsBackToStreamKey(t *testing.T) {
	bar, err := DecodeSourceBar("bar:300s:CME:NQ", []byte(`{"bar_index":3,"ts":1709303400,"open":1,"high":2,"low":0.5,"close":1.5}`))
	require.NoError(t, err)

	assert.Equal(t, "CME", bar.Exchange)
	assert.Equal(t, "NQ", bar.Symbol)
	assert.Equal(t, 300, bar.TF)
	assert.Equal(t, "CME:NQ", bar.Key())
	assert.Equal(t, time.Unix(1709303400, 0).UTC(), bar.TS)
}

func TestDecodeSourceBar_MillisAndNullPrices(t *testing.T) {
	bar, err := DecodeSourceBar("bar:60s:X:Y", []byte(`{"bar_index":0,"ts":1709303400123,"open":null,"high":"abc","close":7}`))
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1709303400123).UTC(), bar.TS)
	assert.True(t, isNaN(bar.Open))
	assert.True(t, isNaN(bar.High))
	assert.True(t, math.IsNaN(float64(bar.Low)), "missing field")
	assert.Equal(t, model.Float(7), bar.Close)
}

func TestDecodeSourceBar_Errors(t *testing.T) {
	_, err := DecodeSourceBar("bar:60s:X:Y", []byte(`{"open":1}`))
	assert.ErrorContains(t, err, "bar_index")

	_, err = DecodeSourceBar("bar:60s:X:Y", []byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeSourceBar("bar:60s:X:Y", []byte(`{"bar_index":1,"ts":"yesterday"}`))
	assert.ErrorContains(t, err, "ts")
}

func TestDecodeSourceBar_RoundTripsModelJSON(t *testing.T) {
	orig := model.SourceBar{Exchange: "X", Symbol: "Y", TF: 60, BarIndex: 9,
		TS: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.25}

	bar, err := DecodeSourceBar(orig.StreamKey(), orig.JSON())
	require.NoError(t, err)
	assert.Equal(t, orig, bar)
}

func TestParseBarStream(t *testing.T) {
	tf, ex, sym := parseBarStream("bar:60s:NSE:NIFTY:FUT")
	assert.Equal(t, 60, tf)
	assert.Equal(t, "NSE", ex)
	assert.Equal(t, "NIFTY:FUT", sym)

	tf, ex, sym = parseBarStream("candle:60s:NSE")
	assert.Zero(t, tf)
	assert.Empty(t, ex)
	assert.Empty(t, sym)
}

func TestMessageBar_NoData(t *testing.T) {
	_, err := messageBar("bar:60s:X:Y", map[string]interface{}{"other": "x"})
	assert.ErrorIs(t, err, errNoData)
}

func isNaN(f model.Float) bool { return math.IsNaN(float64(f)) }
