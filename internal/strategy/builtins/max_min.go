package builtins

import (
	"math"

	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*MaxMin)(nil)
	_ strategy.Strategy = (*MaxMinRegime)(nil)
	_ strategy.Strategy = (*MinMax)(nil)
)

// atrStopMultiple is how many ATRs below the close stop-losses are placed.
const atrStopMultiple = 2

// ---------------------------------------------------------------------------
// MaxMin
// ---------------------------------------------------------------------------

var maxMinSpec = strategy.Spec{
	Name:        "MaxMin",
	Description: "Trend following: buy new highs with an ATR stop, exit on new lows.",
	Defaults:    strategy.Params{"highest_length": 20, "lowest_length": 10, "atr_length": 20},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "highest_length", "lowest_length", "atr_length"); err != nil {
			return nil, err
		}
		return &MaxMin{
			highestLength: p.Int("highest_length"),
			lowestLength:  p.Int("lowest_length"),
			atrLength:     p.Int("atr_length"),
		}, nil
	},
}

// MaxMin buys when the bar's high is the rolling highest high and exits
// when the low is the rolling lowest low. The stop-loss sits two ATRs below
// the close, or at the rolling lowest if that is higher.
type MaxMin struct {
	highestLength, lowestLength, atrLength int

	highest, lowest, atr *strategy.Series
}

func (s *MaxMin) Name() string { return "MaxMin" }

func (s *MaxMin) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	b := newBuilder(ctx)
	s.highest = b.add("Highest", b.check(indicator.Highest(f.Highs(), s.highestLength)))
	s.lowest = b.add("Lowest", b.check(indicator.Lowest(f.Lows(), s.lowestLength)))
	s.atr = b.add("ATR", b.check(indicator.ATR(f.Highs(), f.Lows(), f.Closes(), s.atrLength)))
	return b.Err()
}

func (s *MaxMin) Next(ctx *strategy.Context) error {
	if ctx.Position().Flat() {
		if ctx.High().Cur() != s.highest.Cur() {
			return nil
		}
		closePx := ctx.Close().Cur()
		sl := math.Max(closePx-atrStopMultiple*s.atr.Cur(), s.lowest.Cur())
		if sl >= closePx {
			return nil
		}
		return tolerate(ctx)(ctx.Buy(strategy.SL(sl)))
	}
	if ctx.Low().Cur() == s.lowest.Cur() {
		ctx.ClosePosition()
	}
	return nil
}

// ---------------------------------------------------------------------------
// MaxMinRegime
// ---------------------------------------------------------------------------

var maxMinRegimeSpec = strategy.Spec{
	Name:        "MaxMinRegime",
	Description: "MaxMin in trending regimes, short-term dip buying with a rolling take-profit otherwise.",
	Defaults: strategy.Params{
		"min_highest_length": 2,
		"med_highest_length": 20,
		"max_highest_length": 30,
		"min_lowest_length":  2,
		"med_lowest_length":  10,
		"max_lowest_length":  30,
		"atr_length":         20,
	},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "min_highest_length", "med_highest_length", "max_highest_length",
			"min_lowest_length", "med_lowest_length", "max_lowest_length", "atr_length"); err != nil {
			return nil, err
		}
		return &MaxMinRegime{
			highestLengths: [3]int{p.Int("min_highest_length"), p.Int("med_highest_length"), p.Int("max_highest_length")},
			lowestLengths:  [3]int{p.Int("min_lowest_length"), p.Int("med_lowest_length"), p.Int("max_lowest_length")},
			atrLength:      p.Int("atr_length"),
		}, nil
	},
}

// MaxMinRegime switches between two rule sets. The market is trending when
// the long and medium look-back extremes agree on either side; then it
// trades MaxMin breakouts on the medium windows. Otherwise it buys a new
// short-term low with a take-profit at the short-term high, moving that
// take-profit every bar.
type MaxMinRegime struct {
	highestLengths, lowestLengths [3]int
	atrLength                     int

	highMin, highMed, highMax *strategy.Series
	lowMin, lowMed, lowMax    *strategy.Series
	atr                       *strategy.Series
}

func (s *MaxMinRegime) Name() string { return "MaxMinRegime" }

func (s *MaxMinRegime) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	highs, lows := f.Highs(), f.Lows()
	b := newBuilder(ctx)
	s.highMin = b.add("HighestMin", b.check(indicator.Highest(highs, s.highestLengths[0])))
	s.highMed = b.add("HighestMed", b.check(indicator.Highest(highs, s.highestLengths[1])))
	s.highMax = b.add("HighestMax", b.check(indicator.Highest(highs, s.highestLengths[2])))
	s.lowMin = b.add("LowestMin", b.check(indicator.Lowest(lows, s.lowestLengths[0])))
	s.lowMed = b.add("LowestMed", b.check(indicator.Lowest(lows, s.lowestLengths[1])))
	s.lowMax = b.add("LowestMax", b.check(indicator.Lowest(lows, s.lowestLengths[2])))
	s.atr = b.add("ATR", b.check(indicator.ATR(highs, lows, f.Closes(), s.atrLength)))
	return b.Err()
}

func (s *MaxMinRegime) Next(ctx *strategy.Context) error {
	high, low, closePx := ctx.High().Cur(), ctx.Low().Cur(), ctx.Close().Cur()
	flat := ctx.Position().Flat()

	trending := s.highMax.Cur() == s.highMed.Cur() || s.lowMax.Cur() == s.lowMed.Cur()
	if trending {
		if flat {
			if high > s.highMed.Ago(1) || high == s.highMed.Cur() {
				sl := math.Max(closePx-atrStopMultiple*s.atr.Cur(), s.lowMed.Cur())
				if sl >= closePx {
					return nil
				}
				return tolerate(ctx)(ctx.Buy(strategy.SL(sl)))
			}
			return nil
		}
		if s.lowMed.Ago(1) > low || s.lowMed.Cur() == low {
			ctx.ClosePosition()
		}
		return nil
	}

	if flat {
		if low < s.lowMin.Ago(1) || low == s.lowMin.Cur() {
			// The short-term high includes this bar and is never below the
			// close. The broker rejects a take-profit equal to it.
			tp := s.highMin.Cur()
			if tp == closePx {
				tp = closePx + 1
			}
			return tolerate(ctx)(ctx.Buy(strategy.TP(tp)))
		}
		return nil
	}
	if trades := ctx.Trades(); len(trades) > 0 {
		trades[len(trades)-1].SetTP(s.highMin.Cur())
	}
	return nil
}

// ---------------------------------------------------------------------------
// MinMax
// ---------------------------------------------------------------------------

var minMaxSpec = strategy.Spec{
	Name:        "MinMax",
	Description: "Volatility reversion: buy a short-term low with an ATR stop, exit at the short-term high.",
	Defaults:    strategy.Params{"lowest_length": 2, "highest_length": 2, "atr_length": 20},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "highest_length", "lowest_length", "atr_length"); err != nil {
			return nil, err
		}
		return &MinMax{
			highestLength: p.Int("highest_length"),
			lowestLength:  p.Int("lowest_length"),
			atrLength:     p.Int("atr_length"),
		}, nil
	},
}

// MinMax is the inverse of MaxMin: it buys when the low is the rolling
// lowest and sells when the high is the rolling highest.
type MinMax struct {
	highestLength, lowestLength, atrLength int

	highest, lowest, atr *strategy.Series
}

func (s *MinMax) Name() string { return "MinMax" }

func (s *MinMax) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	b := newBuilder(ctx)
	s.highest = b.add("Highest", b.check(indicator.Highest(f.Highs(), s.highestLength)))
	s.lowest = b.add("Lowest", b.check(indicator.Lowest(f.Lows(), s.lowestLength)))
	s.atr = b.add("ATR", b.check(indicator.ATR(f.Highs(), f.Lows(), f.Closes(), s.atrLength)))
	return b.Err()
}

func (s *MinMax) Next(ctx *strategy.Context) error {
	if ctx.Position().Flat() {
		if ctx.Low().Cur() != s.lowest.Cur() {
			return nil
		}
		sl := ctx.Close().Cur() - atrStopMultiple*s.atr.Cur()
		if sl <= 0 {
			return nil
		}
		return tolerate(ctx)(ctx.Buy(strategy.SL(sl)))
	}
	if ctx.High().Cur() == s.highest.Cur() {
		ctx.ClosePosition()
	}
	return nil
}
