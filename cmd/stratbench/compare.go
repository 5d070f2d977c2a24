package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stratbench/internal/stats"
	"stratbench/internal/tester"
)

var compareFlags struct {
	data       dataFlags
	strategies []string
	metrics    []string
	maximize   string
	maxTries   int
	transpose  bool
	csv        bool
	save       bool
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run strategies side by side and print a metrics table",
	Example: `  stratbench compare -t AAPL --start 2020-01-01 --end 2023-01-01 \
    -s BuyAndHold -s SmaCross:n1=10,n2=20 -s "RsiOscillator:rsi_len=7|14" --maximize SQN`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := &compareFlags
		info, err := f.data.info()
		if err != nil {
			return err
		}
		entries, err := parseEntries(f.strategies)
		if err != nil {
			return err
		}

		a, err := loadApp(f.data.source)
		if err != nil {
			return err
		}
		var opts []tester.Option
		if f.save {
			runs, err := a.openRuns()
			if err != nil {
				return err
			}
			defer runs.Close()
			opts = append(opts, tester.WithRunStore(runs))
		}

		t := a.tester(opts...)
		if err := t.AddStrategies(entries...); err != nil {
			return err
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if f.maximize != "" {
			optimized, err := t.Optimize(ctx, &tester.OptimizationInfo{
				Data:     info,
				Maximize: f.maximize,
				MaxTries: f.maxTries,
			})
			if err != nil {
				return err
			}
			printOptimized(out, f.maximize, optimized)
		}

		tbl, err := t.RunBacktests(ctx, info, f.metrics)
		if err != nil {
			return err
		}
		if f.transpose {
			tbl = tbl.Transpose()
		}
		if f.csv {
			return tbl.CSV(out)
		}
		fmt.Fprintf(out, "%s\n", info)
		return tbl.Render(out)
	},
}

func printOptimized(w io.Writer, metric string, optimized []tester.Optimized) {
	for _, o := range optimized {
		fmt.Fprintf(w, "%s: best %s over %d runs: %s = %s\n",
			o.Name, o.Params, o.Tried, metric, stats.FormatNumber(o.Score, 2))
	}
}

func init() {
	f := &compareFlags
	f.data.register(compareCmd)
	fs := compareCmd.Flags()
	fs.StringArrayVarP(&f.strategies, "strategy", "s", nil, `strategy to run, "Name" or "Name:param=v1|v2,..." (repeatable)`)
	fs.StringArrayVarP(&f.metrics, "metric", "m", nil, "metric to report (repeatable, default: the standard set)")
	fs.StringVar(&f.maximize, "maximize", "", "optimise entries with several candidates for this metric first")
	fs.IntVar(&f.maxTries, "max-tries", 0, "cap on parameter combinations per optimisation (0 = all)")
	fs.BoolVar(&f.transpose, "transpose", false, "print metrics as rows")
	fs.BoolVar(&f.csv, "csv", false, "write CSV instead of a table")
	fs.BoolVar(&f.save, "save", false, "store the runs in the history database")
	_ = compareCmd.MarkFlagRequired("strategy")
	rootCmd.AddCommand(compareCmd)
}
