// Package tester compares strategies on the same market data: it registers
// strategy entries, optionally optimises their parameters and runs them side
// by side into a metrics table.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"stratbench/internal/domain"
	"stratbench/internal/engine"
	"stratbench/internal/marketdata"
	"stratbench/internal/stats"
	"stratbench/internal/store"
	"stratbench/internal/strategy"
)

var (
	// ErrInvalidStrategies is returned by AddStrategies for a malformed
	// strategy list.
	ErrInvalidStrategies = errors.New("invalid strategy list")

	// ErrNoOptimizationInfo is returned by Optimize for a nil request.
	ErrNoOptimizationInfo = errors.New("no optimization instructions were provided")

	// ErrMissingDataInfo is returned by Optimize when the data request or
	// the metric to maximise is incomplete.
	ErrMissingDataInfo = errors.New("missing information for ohlc data retrieval")
)

// DefaultCash is the starting balance of every comparison run.
const DefaultCash = 10_000

// DefaultMetrics are the metrics reported when none are requested.
var DefaultMetrics = []string{
	stats.MetricExposureTime,
	stats.MetricEquityFinal,
	stats.MetricEquityPeak,
	stats.MetricReturn,
	stats.MetricBuyHoldReturn,
	stats.MetricReturnAnn,
	stats.MetricVolatilityAnn,
	stats.MetricSharpe,
	stats.MetricTrades,
	stats.MetricWinRate,
	stats.MetricBestTrade,
	stats.MetricWorstTrade,
	stats.MetricAvgTrade,
	stats.MetricMaxTradeDuration,
	stats.MetricAvgTradeDuration,
	stats.MetricProfitFactor,
}

// Entry names a registered strategy and, optionally, candidate values for
// its parameters. More than one candidate for any parameter flags the entry
// for optimisation.
type Entry struct {
	Name   string        `json:"name" yaml:"name" validate:"required"`
	Params strategy.Grid `json:"params,omitempty" yaml:"params,omitempty"`
}

// OptimizationInfo describes the data to optimise on and the metric to
// maximise.
type OptimizationInfo struct {
	Data     domain.DataInfo `json:"data_info" yaml:"data_info"`
	Maximize string          `json:"maximize" yaml:"maximize"`
	MaxTries int             `json:"max_tries,omitempty" yaml:"max_tries,omitempty"`
}

// Optimized reports the parameters chosen for one entry.
type Optimized struct {
	Name   string          `json:"name"`
	Params strategy.Params `json:"params"`
	Score  float64         `json:"score"`
	Tried  int             `json:"tried"`
}

// Recorder observes finished backtests.
type Recorder interface {
	ObserveBacktest(strategy string, elapsed time.Duration, err error)
}

// slot is a registered entry with its resolved parameters.
type slot struct {
	entry    Entry
	spec     strategy.Spec
	params   strategy.Params
	optimize bool
}

// StrategyTester runs a list of strategies over the same data.
type StrategyTester struct {
	registry *strategy.Registry
	provider marketdata.Provider
	cfg      engine.Config
	workers  int
	runs     store.RunStore
	recorder Recorder
	log      *slog.Logger

	slots []slot
}

// Option configures a StrategyTester.
type Option func(*StrategyTester)

// WithConfig replaces the engine configuration. A zero cash balance is
// replaced by DefaultCash.
func WithConfig(cfg engine.Config) Option {
	return func(t *StrategyTester) {
		if cfg.Cash <= 0 {
			cfg.Cash = DefaultCash
		}
		t.cfg = cfg
	}
}

// WithWorkers bounds the number of concurrent backtests.
func WithWorkers(n int) Option {
	return func(t *StrategyTester) { t.workers = n }
}

// WithRunStore persists every comparison run.
func WithRunStore(s store.RunStore) Option {
	return func(t *StrategyTester) { t.runs = s }
}

// WithRecorder reports backtest outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(t *StrategyTester) { t.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *StrategyTester) { t.log = l }
}

// New creates a StrategyTester resolving names in registry and loading data
// from provider.
func New(registry *strategy.Registry, provider marketdata.Provider, opts ...Option) *StrategyTester {
	cfg := engine.DefaultConfig()
	cfg.Cash = DefaultCash
	t := &StrategyTester{
		registry: registry,
		provider: provider,
		cfg:      cfg,
		workers:  runtime.GOMAXPROCS(0),
		log:      slog.Default().With("component", "tester"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.workers <= 0 {
		t.workers = runtime.GOMAXPROCS(0)
	}
	return t
}

// AddStrategies validates entries and appends them. Either every entry is
// added or none is.
func (t *StrategyTester) AddStrategies(entries ...Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no strategies provided", ErrInvalidStrategies)
	}
	added := make([]slot, 0, len(entries))
	for i, e := range entries {
		spec, err := t.registry.Lookup(e.Name)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidStrategies, i, err)
		}
		if err := e.Params.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidStrategies, e.Name, err)
		}
		first := e.Params.First()
		if _, err := spec.Defaults.Merge(first); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidStrategies, e.Name, err)
		}
		added = append(added, slot{
			entry:    e,
			spec:     spec,
			params:   first,
			optimize: e.Params.NeedsOptimization(),
		})
	}
	t.slots = append(t.slots, added...)
	return nil
}

// Entries returns the registered entries with their current parameter
// choice: the first candidate of each parameter, or the optimised value.
func (t *StrategyTester) Entries() []Entry {
	out := make([]Entry, len(t.slots))
	for i, s := range t.slots {
		g := make(strategy.Grid, len(s.params))
		for k, v := range s.params {
			g[k] = []float64{v}
		}
		out[i] = Entry{Name: s.entry.Name, Params: g}
	}
	return out
}

// Optimize sweeps the grid of every entry flagged for optimisation on the
// data described by info and keeps the best parameters for later runs.
func (t *StrategyTester) Optimize(ctx context.Context, info *OptimizationInfo) ([]Optimized, error) {
	if info == nil {
		return nil, ErrNoOptimizationInfo
	}
	if err := info.Data.Validate(); err != nil {
		return nil, fmt.Errorf("%w (required: ticker, start date, end date, interval): %w", ErrMissingDataInfo, err)
	}
	if info.Maximize == "" {
		return nil, fmt.Errorf("%w: no metric to maximize", ErrMissingDataInfo)
	}
	if !stats.IsMetric(info.Maximize) {
		return nil, fmt.Errorf("%w: %q", stats.ErrUnknownMetric, info.Maximize)
	}

	pending := 0
	for _, s := range t.slots {
		if s.optimize {
			pending++
		}
	}
	if pending == 0 {
		t.log.Info("no optimizations requested")
		return nil, nil
	}

	bt, err := t.backtest(ctx, info.Data)
	if err != nil {
		return nil, err
	}

	var out []Optimized
	for i := range t.slots {
		s := &t.slots[i]
		if !s.optimize {
			continue
		}
		res, err := bt.Optimize(ctx, s.spec, engine.OptimizeOptions{
			Grid:     s.entry.Params,
			Maximize: info.Maximize,
			MaxTries: info.MaxTries,
			Workers:  t.workers,
		})
		if err != nil {
			return nil, fmt.Errorf("optimizing %s: %w", s.entry.Name, err)
		}
		s.params = res.BestParams
		score, _ := res.Best.Lookup(info.Maximize)
		out = append(out, Optimized{
			Name:   s.entry.Name,
			Params: res.BestParams,
			Score:  score,
			Tried:  len(res.Results),
		})
	}
	return out, nil
}

// RunBacktests runs every entry on the data described by info and collects
// metrics into a table with one row per entry. An empty metric list selects
// DefaultMetrics.
func (t *StrategyTester) RunBacktests(ctx context.Context, info domain.DataInfo, metrics []string) (*Table, error) {
	if len(t.slots) == 0 {
		return nil, fmt.Errorf("%w: no strategies added", ErrInvalidStrategies)
	}
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	if err := stats.Validate(metrics); err != nil {
		return nil, err
	}

	bt, err := t.backtest(ctx, info)
	if err != nil {
		return nil, err
	}

	results := make([]*stats.Stats, len(t.slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, s := range t.slots {
		g.Go(func() error {
			began := time.Now()
			st, err := bt.Run(gctx, s.spec, s.params)
			if t.recorder != nil {
				t.recorder.ObserveBacktest(s.spec.Name, time.Since(began), err)
			}
			if err != nil {
				return fmt.Errorf("running %s: %w", s.entry.Name, err)
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if t.runs != nil {
		if err := t.save(ctx, info, results); err != nil {
			return nil, err
		}
	}

	labels := rowLabels(t.slots)
	t.log.Info("comparison finished", "data", info.String(), "strategies", len(results))
	return newTable(labels, metrics, results)
}

// backtest loads the data for info and binds it to the engine config.
func (t *StrategyTester) backtest(ctx context.Context, info domain.DataInfo) (*engine.Backtest, error) {
	frame, err := t.provider.FetchBars(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", info, err)
	}
	return engine.NewBacktest(frame, t.cfg, engine.WithLogger(t.log))
}

func (t *StrategyTester) save(ctx context.Context, info domain.DataInfo, results []*stats.Stats) error {
	for _, st := range results {
		id, err := t.runs.SaveRun(ctx, &store.RunRecord{
			Data:     info,
			Strategy: st.Strategy,
			Params:   st.Params,
			Metrics:  st.Map(),
		})
		if err != nil {
			return fmt.Errorf("saving %s run: %w", st.Strategy, err)
		}
		if err := t.runs.SaveTrades(ctx, id, st.Trades); err != nil {
			return fmt.Errorf("saving %s trades: %w", st.Strategy, err)
		}
		t.log.Debug("run saved", "id", id, "strategy", st.Strategy)
	}
	return nil
}

// rowLabels names rows after their strategy; repeated names get a "#n"
// suffix from the second occurrence on.
func rowLabels(slots []slot) []string {
	seen := make(map[string]int, len(slots))
	labels := make([]string, len(slots))
	for i, s := range slots {
		seen[s.entry.Name]++
		labels[i] = s.entry.Name
		if n := seen[s.entry.Name]; n > 1 {
			labels[i] = fmt.Sprintf("%s#%d", s.entry.Name, n)
		}
	}
	return labels
}
