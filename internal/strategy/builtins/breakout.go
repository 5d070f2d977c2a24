package builtins

import (
	"fmt"
	"math"

	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*Breakout)(nil)
	_ strategy.Strategy = (*RangeReversion)(nil)
)

// unitsFor returns whole units worth fraction of cash at price, or zero.
func unitsFor(cash, price, fraction float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(fraction * cash / price)
}

func checkPeriod(p strategy.Params, name string) error {
	if p.Int(name) < 2 {
		return fmt.Errorf("%s must be at least 2, got %v", name, p.Float(name))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Breakout
// ---------------------------------------------------------------------------

var breakoutSpec = strategy.Spec{
	Name:        "Breakout",
	Description: "Stop entry above the recent high, stop exit below the recent low, re-placed every bar.",
	Defaults:    strategy.Params{"highest_period": 20, "lowest_period": 10, "size_fraction": 0.95},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		for _, n := range []string{"highest_period", "lowest_period"} {
			if err := checkPeriod(p, n); err != nil {
				return nil, err
			}
		}
		if f := p.Float("size_fraction"); f <= 0 || f > 1 {
			return nil, fmt.Errorf("size_fraction must be in (0, 1], got %v", f)
		}
		return &Breakout{
			highestPeriod: p.Int("highest_period"),
			lowestPeriod:  p.Int("lowest_period"),
			sizeFraction:  p.Float("size_fraction"),
		}, nil
	},
}

// Breakout keeps a buy-stop at the highest high of the last n-1 bars so a
// new n-bar high fills it. Once long, the trade's stop-loss is moved to the
// lowest low of the last m-1 bars.
type Breakout struct {
	highestPeriod, lowestPeriod int
	sizeFraction                float64

	highest, lowest *strategy.Series
}

func (s *Breakout) Name() string { return "Breakout" }

func (s *Breakout) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	b := newBuilder(ctx)
	s.highest = b.add("Highest", b.check(indicator.Highest(f.Highs(), s.highestPeriod-1)))
	s.lowest = b.add("Lowest", b.check(indicator.Lowest(f.Lows(), s.lowestPeriod-1)))
	return b.Err()
}

func (s *Breakout) Next(ctx *strategy.Context) error {
	ctx.CancelOrders()

	if ctx.Position().Flat() {
		units := unitsFor(ctx.Cash(), ctx.Close().Cur(), s.sizeFraction)
		if units < 1 {
			return nil
		}
		_, err := ctx.Buy(strategy.Stop(s.highest.Cur()), strategy.Size(units))
		return err
	}
	for _, t := range ctx.Trades() {
		t.SetSL(s.lowest.Cur())
	}
	return nil
}

// ---------------------------------------------------------------------------
// RangeReversion
// ---------------------------------------------------------------------------

var rangeReversionSpec = strategy.Spec{
	Name:        "RangeReversion",
	Description: "Limit entry at the recent low, limit exit at the recent high, fixed percentage stop.",
	Defaults:    strategy.Params{"period": 4, "max_loss": 0.05, "size_fraction": 0.95},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPeriod(p, "period"); err != nil {
			return nil, err
		}
		if l := p.Float("max_loss"); l <= 0 || l >= 1 {
			return nil, fmt.Errorf("max_loss must be in (0, 1), got %v", l)
		}
		if f := p.Float("size_fraction"); f <= 0 || f > 1 {
			return nil, fmt.Errorf("size_fraction must be in (0, 1], got %v", f)
		}
		return &RangeReversion{
			period:       p.Int("period"),
			maxLoss:      p.Float("max_loss"),
			sizeFraction: p.Float("size_fraction"),
		}, nil
	},
}

// RangeReversion buys with a limit at the lowest low of the last period-1
// bars. An open trade takes profit at the highest high of the same window
// and stops out max_loss below its entry.
type RangeReversion struct {
	period       int
	maxLoss      float64
	sizeFraction float64

	highest, lowest *strategy.Series
}

func (s *RangeReversion) Name() string { return "RangeReversion" }

func (s *RangeReversion) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	b := newBuilder(ctx)
	s.highest = b.add("Highest", b.check(indicator.Highest(f.Highs(), s.period-1)))
	s.lowest = b.add("Lowest", b.check(indicator.Lowest(f.Lows(), s.period-1)))
	return b.Err()
}

func (s *RangeReversion) Next(ctx *strategy.Context) error {
	ctx.CancelOrders()

	trades := ctx.Trades()
	if len(trades) == 0 {
		units := unitsFor(ctx.Cash(), ctx.Close().Cur(), s.sizeFraction)
		if units < 1 {
			return nil
		}
		_, err := ctx.Buy(strategy.Limit(s.lowest.Cur()), strategy.Size(units))
		return err
	}
	for _, t := range trades {
		if t.SL() == 0 {
			t.SetSL(t.EntryPrice * (1 - s.maxLoss))
		}
		t.SetTP(s.highest.Cur())
	}
	return nil
}
