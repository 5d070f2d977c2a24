package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"stratbench/internal/stats"
	"stratbench/internal/strategy"
)

// ErrEmptyGrid is returned when no parameter combination is left to try.
var ErrEmptyGrid = errors.New("no parameter combinations to evaluate")

// DefaultMaximize is the metric optimised when none is given.
const DefaultMaximize = stats.MetricSQN

// OptimizeOptions controls a parameter sweep.
type OptimizeOptions struct {
	// Grid holds candidate values per parameter.
	Grid strategy.Grid
	// Maximize names the metric to maximise. Defaults to SQN.
	Maximize string
	// Constraint, when set, drops combinations it returns false for.
	Constraint func(strategy.Params) bool
	// MaxTries caps the number of combinations evaluated. Zero means all.
	// When capped, combinations are picked at an even stride through the
	// grid.
	MaxTries int
	// Workers bounds concurrent runs. Zero means GOMAXPROCS.
	Workers int
}

// OptimizeResult is the outcome of a sweep.
type OptimizeResult struct {
	Best       *stats.Stats
	BestParams strategy.Params
	// Results holds every evaluated run in grid order.
	Results []*stats.Stats
}

// Optimize evaluates every combination of opts.Grid and returns the run
// with the highest value of opts.Maximize. NaN values rank last and ties
// go to the combination earliest in the grid.
func (b *Backtest) Optimize(ctx context.Context, spec strategy.Spec, opts OptimizeOptions) (*OptimizeResult, error) {
	maximize := opts.Maximize
	if maximize == "" {
		maximize = DefaultMaximize
	}
	if !stats.IsMetric(maximize) {
		return nil, fmt.Errorf("%w: %q", stats.ErrUnknownMetric, maximize)
	}
	if err := opts.Grid.Validate(); err != nil {
		return nil, err
	}
	if _, err := spec.Defaults.Merge(opts.Grid.First()); err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	var combos []strategy.Params
	for _, p := range opts.Grid.Combinations() {
		if opts.Constraint == nil || opts.Constraint(p) {
			combos = append(combos, p)
		}
	}
	combos = sample(combos, opts.MaxTries)
	if len(combos) == 0 {
		return nil, ErrEmptyGrid
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	began := time.Now()
	results := make([]*stats.Stats, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range combos {
		g.Go(func() error {
			st, err := b.Run(gctx, spec, p)
			if err != nil {
				return fmt.Errorf("params %s: %w", p, err)
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	bestVal, _ := results[0].Lookup(maximize)
	for i := 1; i < len(results); i++ {
		v, _ := results[i].Lookup(maximize)
		if better(v, bestVal) {
			best, bestVal = i, v
		}
	}

	b.logger.Info("optimization finished",
		"strategy", spec.Name,
		"combinations", len(combos),
		"maximize", maximize,
		"best", bestVal,
		"params", combos[best].String(),
		"elapsed", time.Since(began),
	)
	return &OptimizeResult{
		Best:       results[best],
		BestParams: combos[best],
		Results:    results,
	}, nil
}

// better reports whether v beats cur. NaN never beats anything, and
// anything beats NaN.
func better(v, cur float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return math.IsNaN(cur) || v > cur
}

// sample keeps at most n combinations spread evenly through combos.
func sample(combos []strategy.Params, n int) []strategy.Params {
	if n <= 0 || len(combos) <= n {
		return combos
	}
	out := make([]strategy.Params, n)
	step := float64(len(combos)) / float64(n)
	for i := range out {
		out[i] = combos[int(float64(i)*step)]
	}
	return out
}
