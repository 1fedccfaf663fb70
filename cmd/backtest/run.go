package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"synthtrend/internal/indicator"
	"synthtrend/internal/marketdata/replay"
	"synthtrend/internal/model"
	sqlitestore "synthtrend/internal/store/sqlite"
)

// tally accumulates replay statistics.
type tally struct {
	sample   int
	bars     int
	outcomes map[indicator.Outcome]int
	flips    int
	lastDir  model.Direction
	last     model.TrendResult
	haveLast bool
	rows     []model.TrendResult
}

func newTally(sample int) *tally {
	return &tally{sample: sample, outcomes: make(map[indicator.Outcome]int)}
}

func (t *tally) observe(res model.TrendResult, o indicator.Outcome) {
	t.bars++
	t.outcomes[o]++
	if !o.Emitted() {
		return
	}
	t.last, t.haveLast = res, true
	if !res.Ready {
		return
	}
	if t.lastDir != 0 && res.Direction != t.lastDir {
		t.flips++
	}
	t.lastDir = res.Direction
	if t.sample > 0 && t.outcomes[indicator.OutcomeComputed]%t.sample == 1%t.sample {
		t.rows = append(t.rows, res)
	}
}

func runBacktest(ctx context.Context, w io.Writer, opts *options, pair indicator.PairConfig, log *slog.Logger) error {
	reader, err := sqlitestore.NewReader(opts.dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	st := indicator.NewSynthTrend(pair)
	t := newTally(opts.sample)

	ch := make(chan replay.SideBar, 1024)
	errCh := make(chan error, 1)
	go func() {
		errCh <- replay.New(reader, log).Run(ctx, pair.TF, pair.SourceA, pair.SourceB, opts.from, opts.speed, ch)
	}()

	for sb := range ch {
		res, outcome := st.Ingest(sb.Bar.BarIndex, sb.Side, sb.Bar.Quadruple())
		res.TS = sb.Bar.TS
		t.observe(res, outcome)
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("replay: %w", err)
	}

	t.render(w, st.ShortName())
	return nil
}

func f4(v model.Float) string {
	if !v.Valid() {
		return "-"
	}
	return fmt.Sprintf("%.4f", float64(v))
}

// render prints the sampled rows and the summary.
func (t *tally) render(w io.Writer, title string) {
	if len(t.rows) > 0 {
		rows := table.NewWriter()
		rows.SetOutputMirror(w)
		rows.SetTitle(title)
		rows.AppendHeader(table.Row{"Bar", "Time", "Close", "ATR", "Up", "Down", "Value", "Dir"})
		for _, r := range t.rows {
			rows.AppendRow(table.Row{
				r.BarIndex, r.TS.Format("2006-01-02 15:04"), f4(r.Close), f4(r.ATR),
				f4(r.Up), f4(r.Down), f4(r.Value), r.Direction.String(),
			})
		}
		rows.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
			{Number: 7, Align: text.AlignRight},
		})
		rows.SetStyle(table.StyleLight)
		rows.Render()
	}

	sum := table.NewWriter()
	sum.SetOutputMirror(w)
	sum.SetTitle("Backtest summary")
	sum.AppendRow(table.Row{"Bars replayed", t.bars})
	sum.AppendRow(table.Row{"Computed", t.outcomes[indicator.OutcomeComputed]})
	sum.AppendRow(table.Row{"Warmup", t.outcomes[indicator.OutcomeWarmup]})
	sum.AppendRow(table.Row{"Waiting for other source", t.outcomes[indicator.OutcomeNotConfigured]})
	sum.AppendRow(table.Row{"Mismatches", t.outcomes[indicator.OutcomeMismatch]})
	sum.AppendRow(table.Row{"Stale", t.outcomes[indicator.OutcomeStale]})
	sum.AppendRow(table.Row{"Out of range", t.outcomes[indicator.OutcomeOutOfRange]})
	sum.AppendRow(table.Row{"Direction flips", t.flips})
	if t.haveLast {
		sum.AppendSeparator()
		sum.AppendRow(table.Row{"Last bar", t.last.BarIndex})
		sum.AppendRow(table.Row{"Last value", f4(t.last.Value)})
		sum.AppendRow(table.Row{"Last direction", t.last.Direction.String()})
	}
	sum.SetStyle(table.StyleLight)
	sum.Render()
}
