package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"synthtrend/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	// snapshotsKept is how many engine snapshots survive pruning.
	snapshotsKept = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to the database file, or ":memory:"
	Logger *slog.Logger
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// It persists source bars for backfill and backtests, and engine snapshots.
type Writer struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func open(path string, conns int) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS source_bars (
			exchange  TEXT    NOT NULL,
			symbol    TEXT    NOT NULL,
			tf        INTEGER NOT NULL,
			bar_index INTEGER NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL,
			high      REAL,
			low       REAL,
			close     REAL,
			PRIMARY KEY (exchange, symbol, tf, bar_index)
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads bars from barCh and inserts closed ones in batched transactions.
// Flushes every batchSize bars or every flushDelay, whichever comes first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.SourceBar) {
	batch := make([]model.SourceBar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.InsertBars(batch); err != nil {
			w.log.Error("bar batch insert failed", "bars", len(batch), "error", err)
		} else {
			w.log.Debug("bars committed", "bars", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			if bar.Forming {
				continue
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// nullable maps NaN to SQL NULL.
func nullable(f model.Float) interface{} {
	if math.IsNaN(float64(f)) {
		return nil
	}
	return float64(f)
}

// InsertBars upserts bars in a single transaction. A later revision of the
// same bar replaces the earlier one.
func (w *Writer) InsertBars(bars []model.SourceBar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO source_bars (exchange, symbol, tf, bar_index, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(b.Exchange, b.Symbol, b.TF, b.BarIndex, b.TS.Unix(),
			nullable(b.Open), nullable(b.High), nullable(b.Low), nullable(b.Close))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s bar %d: %w", b.Key(), b.BarIndex, err)
		}
	}
	return tx.Commit()
}

// LastBarIndex returns the newest stored bar index of a source, or -1.
func (w *Writer) LastBarIndex(tf int, sourceKey string) (int, error) {
	exchange, symbol, err := splitKey(sourceKey)
	if err != nil {
		return -1, err
	}
	var idx sql.NullInt64
	err = w.db.QueryRow(
		`SELECT MAX(bar_index) FROM source_bars WHERE exchange = ? AND symbol = ? AND tf = ?`,
		exchange, symbol, tf,
	).Scan(&idx)
	if err != nil {
		return -1, err
	}
	if !idx.Valid {
		return -1, nil
	}
	return int(idx.Int64), nil
}

// SaveSnapshotJSON stores an engine snapshot and prunes all but the newest few.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	_, err := w.db.Exec(`INSERT INTO engine_snapshots (data, created_at) VALUES (?, ?)`,
		string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`DELETE FROM engine_snapshots WHERE id NOT IN
		(SELECT id FROM engine_snapshots ORDER BY id DESC LIMIT ?)`, snapshotsKept)
	if err != nil {
		w.log.Warn("prune snapshots failed", "error", err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil, nil.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(w.db)
}

// Reader returns a Reader sharing this writer's connection. Required for
// ":memory:" databases, which are private to their connection.
func (w *Writer) Reader() *Reader {
	return &Reader{db: w.db, shared: true}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func latestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM engine_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// splitKey splits "exchange:symbol" at the first colon.
func splitKey(key string) (exchange, symbol string, err error) {
	exchange, symbol, ok := strings.Cut(key, ":")
	if !ok || exchange == "" || symbol == "" {
		return "", "", fmt.Errorf("source key %q is not exchange:symbol", key)
	}
	return exchange, symbol, nil
}
