package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/model"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "synth.db")})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func bar(symbol string, idx int, close float64) model.SourceBar {
	return model.SourceBar{
		Exchange: "X", Symbol: symbol, TF: 60, BarIndex: idx,
		TS:   time.Unix(int64(idx*60), 0).UTC(),
		Open: model.Float(close), High: model.Float(close + 1),
		Low: model.Float(close - 1), Close: model.Float(close),
	}
}

func TestInsertAndReadSourceBars(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.InsertBars([]model.SourceBar{
		bar("AAA", 2, 12), bar("AAA", 0, 10), bar("AAA", 1, 11), bar("BBB", 0, 50),
	}))

	got, err := w.Reader().ReadSourceBars(60, "X:AAA", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].BarIndex)
	assert.Equal(t, 2, got[1].BarIndex)
	assert.Equal(t, model.Float(12), got[1].Close)
	assert.Equal(t, "X", got[1].Exchange)
	assert.Equal(t, time.Unix(120, 0).UTC(), got[1].TS)
}

func TestInsertBars_RevisionReplaces(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.InsertBars([]model.SourceBar{bar("AAA", 0, 10)}))
	require.NoError(t, w.InsertBars([]model.SourceBar{bar("AAA", 0, 15)}))

	got, err := w.Reader().ReadSourceBars(60, "X:AAA", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Float(15), got[0].Close)
}

func TestNaNPricesRoundTripAsNull(t *testing.T) {
	w := newTestWriter(t)
	b := bar("AAA", 0, 10)
	b.High = model.NaN()
	require.NoError(t, w.InsertBars([]model.SourceBar{b}))

	got, err := w.Reader().ReadSourceBars(60, "X:AAA", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(float64(got[0].High)))
	assert.Equal(t, model.Float(10), got[0].Close)
}

func TestSourceKeySplitsOnFirstColon(t *testing.T) {
	w := newTestWriter(t)
	b := bar("BTC:USD", 0, 10)
	require.NoError(t, w.InsertBars([]model.SourceBar{b}))

	got, err := w.Reader().ReadSourceBars(60, "X:BTC:USD", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC:USD", got[0].Symbol)

	_, err = w.Reader().ReadSourceBars(60, "nocolon", 0)
	assert.Error(t, err)
}

func TestLastBarIndex(t *testing.T) {
	w := newTestWriter(t)
	idx, err := w.LastBarIndex(60, "X:AAA")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	require.NoError(t, w.InsertBars([]model.SourceBar{bar("AAA", 3, 1), bar("AAA", 7, 1)}))
	idx, err = w.LastBarIndex(60, "X:AAA")
	require.NoError(t, err)
	assert.Equal(t, 7, idx)
}

func TestRun_BatchesAndSkipsForming(t *testing.T) {
	w := newTestWriter(t)
	ch := make(chan model.SourceBar, 4)
	forming := bar("AAA", 1, 11)
	forming.Forming = true
	ch <- bar("AAA", 0, 10)
	ch <- forming
	close(ch)

	w.Run(context.Background(), ch)

	got, err := w.Reader().ReadSourceBars(60, "X:AAA", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].BarIndex)
}

func TestSnapshots_LatestAndPrune(t *testing.T) {
	w := newTestWriter(t)

	data, err := w.ReadLatestSnapshotJSON()
	require.NoError(t, err)
	assert.Nil(t, data)

	for i := 0; i < snapshotsKept+3; i++ {
		require.NoError(t, w.SaveSnapshotJSON([]byte(`{"n":`+strconv.Itoa(i)+`}`)))
	}

	data, err = w.Reader().ReadLatestSnapshotJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":12}`, string(data))

	var n int
	require.NoError(t, w.DB().QueryRow(`SELECT COUNT(*) FROM engine_snapshots`).Scan(&n))
	assert.Equal(t, snapshotsKept, n)
}

func TestSeparateReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synth.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.InsertBars([]model.SourceBar{bar("AAA", 0, 10)}))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadSourceBars(60, "X:AAA", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
