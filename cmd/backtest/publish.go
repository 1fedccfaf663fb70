package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"synthtrend/internal/logger"
	"synthtrend/internal/marketdata/replay"
	"synthtrend/internal/model"
	redisstore "synthtrend/internal/store/redis"
	sqlitestore "synthtrend/internal/store/sqlite"
)

// newPublishCmd pushes stored source bars onto their Redis streams so a
// running engine can consume them.
func newPublishCmd(opts *options) *cobra.Command {
	var (
		addr     string
		password string
		db       int
		batch    int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a pair's stored source bars to Redis streams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Init("backtest", logger.ParseLevel(opts.logLevel))
			pair, err := opts.resolvePair()
			if err != nil {
				return err
			}

			reader, err := sqlitestore.NewReader(opts.dbPath)
			if err != nil {
				return err
			}
			defer reader.Close()
			bars, err := replay.New(reader, log).Load(pair.TF, pair.SourceA, pair.SourceB, opts.from)
			if err != nil {
				return err
			}

			w, err := redisstore.New(redisstore.WriterConfig{Addr: addr, Password: password, DB: db, Logger: log})
			if err != nil {
				return err
			}
			defer w.Close()

			if batch <= 0 {
				batch = 500
			}
			buf := make([]model.SourceBar, 0, batch)
			for i, sb := range bars {
				buf = append(buf, sb.Bar)
				if len(buf) == batch || i == len(bars)-1 {
					if err := w.PublishSourceBars(cmd.Context(), buf); err != nil {
						return err
					}
					buf = buf[:0]
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bars for %s\n", len(bars), pair.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&db, "redis-db", 0, "Redis database")
	cmd.Flags().IntVar(&batch, "batch", 500, "bars per pipeline")
	return cmd
}
