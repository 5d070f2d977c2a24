package main

import (
	"github.com/spf13/cobra"

	"stratbench/internal/stats"
	"stratbench/internal/tester"
)

var optimizeFlags struct {
	data       dataFlags
	strategies []string
	maximize   string
	maxTries   int
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search parameter grids and print the best parameters per strategy",
	Example: `  stratbench optimize -t SPY --start 2018-01-01 --end 2024-01-01 \
    -s "SmaCross:n1=5|10|20,n2=50|100|200" --maximize "Sharpe Ratio"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := &optimizeFlags
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
		t := a.tester()
		if err := t.AddStrategies(entries...); err != nil {
			return err
		}
		optimized, err := t.Optimize(cmd.Context(), &tester.OptimizationInfo{
			Data:     info,
			Maximize: f.maximize,
			MaxTries: f.maxTries,
		})
		if err != nil {
			return err
		}
		printOptimized(cmd.OutOrStdout(), f.maximize, optimized)
		return nil
	},
}

func init() {
	f := &optimizeFlags
	f.data.register(optimizeCmd)
	fs := optimizeCmd.Flags()
	fs.StringArrayVarP(&f.strategies, "strategy", "s", nil, `strategy with candidate values, "Name:param=v1|v2,..." (repeatable)`)
	fs.StringVar(&f.maximize, "maximize", stats.MetricSQN, "metric to maximise")
	fs.IntVar(&f.maxTries, "max-tries", 0, "cap on parameter combinations per strategy (0 = all)")
	_ = optimizeCmd.MarkFlagRequired("strategy")
	rootCmd.AddCommand(optimizeCmd)
}
