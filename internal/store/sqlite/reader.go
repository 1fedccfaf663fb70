package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"synthtrend/internal/model"
)

// Reader provides read-only access for backfill, replay and snapshot restore.
type Reader struct {
	db     *sql.DB
	shared bool // db belongs to a Writer
}

// NewReader opens a separate connection pool for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	return &Reader{db: db}, nil
}

// ReadSourceBars reads one source's bars with bar_index >= fromIndex in bar
// order. NULL prices come back as NaN.
func (r *Reader) ReadSourceBars(tf int, sourceKey string, fromIndex int) ([]model.SourceBar, error) {
	exchange, symbol, err := splitKey(sourceKey)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
		SELECT bar_index, ts, open, high, low, close
		FROM source_bars
		WHERE exchange = ? AND symbol = ? AND tf = ? AND bar_index >= ?
		ORDER BY bar_index ASC
	`, exchange, symbol, tf, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("sqlite query source_bars: %w", err)
	}
	defer rows.Close()

	var bars []model.SourceBar
	for rows.Next() {
		b := model.SourceBar{Exchange: exchange, Symbol: symbol, TF: tf}
		var ts int64
		var o, h, l, c sql.NullFloat64
		if err := rows.Scan(&b.BarIndex, &ts, &o, &h, &l, &c); err != nil {
			return nil, fmt.Errorf("sqlite scan source_bars: %w", err)
		}
		b.TS = time.Unix(ts, 0).UTC()
		b.Open, b.High, b.Low, b.Close = orNaN(o), orNaN(h), orNaN(l), orNaN(c)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func orNaN(v sql.NullFloat64) model.Float {
	if !v.Valid {
		return model.NaN()
	}
	return model.Float(v.Float64)
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil, nil.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(r.db)
}

// Close closes the reader. A reader obtained from Writer.Reader leaves the
// shared connection open.
func (r *Reader) Close() error {
	if r.shared {
		return nil
	}
	return r.db.Close()
}
