package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stratbench/internal/api"
	"stratbench/internal/metrics"
	"stratbench/internal/stats"
	"stratbench/internal/strategy"
)

var serveFlags struct {
	source string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve comparisons over HTTP and gRPC",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(serveFlags.source)
		if err != nil {
			return err
		}
		runs, err := a.openRuns()
		if err != nil {
			return err
		}
		defer runs.Close()

		srv := api.NewServer(a.cfg.Server, api.Deps{
			Registry: a.registry,
			Provider: a.provider,
			Runs:     runs,
			Backtest: a.cfg.Backtest,
			Workers:  a.cfg.Workers,
			Logger:   a.log,
		}, metrics.New())
		return srv.ListenAndServe(cmd.Context())
	},
}

var runsFlags struct {
	strategy string
	limit    int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List comparison runs stored with --save",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp("")
		if err != nil {
			return err
		}
		runs, err := a.openRuns()
		if err != nil {
			return err
		}
		defer runs.Close()

		recs, err := runs.ListRuns(cmd.Context(), runsFlags.strategy, runsFlags.limit)
		if err != nil {
			return err
		}
		t := newTable("ID", "Created", "Data", "Strategy", "Params", stats.MetricReturn, stats.MetricSharpe, stats.MetricTrades)
		for _, r := range recs {
			t.Row(
				strconv.FormatInt(r.ID, 10),
				r.CreatedAt.Local().Format(time.DateTime),
				r.Data.String(),
				r.Strategy,
				paramString(r.Params),
				stats.FormatNumber(r.Metrics[stats.MetricReturn], 2),
				stats.FormatNumber(r.Metrics[stats.MetricSharpe], 2),
				stats.FormatNumber(r.Metrics[stats.MetricTrades], 0),
			)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return err
	},
}

func paramString(p map[string]float64) string {
	if len(p) == 0 {
		return "-"
	}
	return strategy.Params(p).String()
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.source, "source", "", "data source override (alpaca, csv)")
	runsCmd.Flags().StringVar(&runsFlags.strategy, "strategy", "", "only list runs of this strategy")
	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", 20, "maximum number of runs")
	rootCmd.AddCommand(serveCmd, runsCmd)
}
