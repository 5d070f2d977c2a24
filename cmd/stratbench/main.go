package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"stratbench/internal/config"
	"stratbench/internal/domain"
	"stratbench/internal/marketdata"
	"stratbench/internal/store"
	"stratbench/internal/strategy"
	"stratbench/internal/strategy/builtins"
	"stratbench/internal/tester"
	"stratbench/internal/util"
)

var version = "dev"

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "stratbench",
	Short: "Backtest and compare trading strategies on historical market data",
	Long: `stratbench runs trading strategies over the same OHLC data, optionally
optimises their parameters, and reports a side-by-side table of performance
metrics.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stratbench version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stratbench %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("STRATBENCH_CONFIG"), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	provider marketdata.Provider
	registry *strategy.Registry
}

// loadApp reads the configuration, installs the logger and builds the data
// provider. A non-empty source overrides the configured one.
func loadApp(source string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if source != "" {
		cfg.Data.Source = source
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	p, err := marketdata.New(cfg.MarketData())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logger, provider: p, registry: builtins.NewRegistry()}, nil
}

// openRuns opens the run history database, creating its directory.
func (a *app) openRuns() (*store.SQLiteStore, error) {
	path := a.cfg.Storage.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	return store.NewSQLiteStore(path)
}

// tester builds a StrategyTester from the configuration.
func (a *app) tester(opts ...tester.Option) *tester.StrategyTester {
	base := []tester.Option{
		tester.WithConfig(a.cfg.Backtest),
		tester.WithWorkers(a.cfg.Workers),
		tester.WithLogger(a.log.With("component", "tester")),
	}
	return tester.New(a.registry, a.provider, append(base, opts...)...)
}

// dataFlags are the flags describing the OHLC data to load.
type dataFlags struct {
	ticker     string
	start      string
	end        string
	interval   string
	autoAdjust bool
	source     string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.ticker, "ticker", "t", "", "ticker symbol (required)")
	fs.StringVar(&f.start, "start", "", "start date, YYYY-MM-DD (required)")
	fs.StringVar(&f.end, "end", "", "end date, YYYY-MM-DD, exclusive (required)")
	fs.StringVarP(&f.interval, "interval", "i", string(domain.Interval1d), "bar interval")
	fs.BoolVar(&f.autoAdjust, "auto-adjust", true, "use split and dividend adjusted prices")
	fs.StringVar(&f.source, "source", "", "data source override (alpaca, csv)")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (f *dataFlags) info() (domain.DataInfo, error) {
	iv, err := domain.ParseInterval(f.interval)
	if err != nil {
		return domain.DataInfo{}, err
	}
	info := domain.DataInfo{
		Ticker:     strings.ToUpper(f.ticker),
		StartDate:  f.start,
		EndDate:    f.end,
		Interval:   iv,
		AutoAdjust: f.autoAdjust,
	}
	if err := info.Validate(); err != nil {
		return domain.DataInfo{}, err
	}
	return info, nil
}

// parseEntries turns "--strategy" values of the form "Name" or
// "Name:param=v1|v2,other=v" into tester entries.
func parseEntries(specs []string) ([]tester.Entry, error) {
	entries := make([]tester.Entry, 0, len(specs))
	for _, s := range specs {
		name, rest, _ := strings.Cut(s, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("strategy %q has no name", s)
		}
		grid, err := strategy.ParseGrid(rest)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		e := tester.Entry{Name: name}
		if len(grid) > 0 {
			e.Params = grid
		}
		entries = append(entries, e)
	}
	return entries, nil
}
