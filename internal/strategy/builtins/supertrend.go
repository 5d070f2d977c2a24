package builtins

import (
	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Supertrend)(nil)

var supertrendSpec = strategy.Spec{
	Name:        "Supertrend",
	Description: "Follow Supertrend flips above the long DEMA, trailing the stop on the trend line.",
	Defaults:    strategy.Params{"supertrend_length": 12, "supertrend_mult": 3, "dema_length": 200},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "supertrend_length", "supertrend_mult", "dema_length"); err != nil {
			return nil, err
		}
		return &Supertrend{
			window:     p.Int("supertrend_length"),
			mult:       p.Float("supertrend_mult"),
			demaLength: p.Int("dema_length"),
		}, nil
	},
}

// Supertrend buys every time the Supertrend direction flips up while the
// close is above the DEMA. The newest trade's stop follows the trend line;
// a flip down or the line crossing above the low closes the position.
type Supertrend struct {
	window     int
	mult       float64
	demaLength int

	line, direction, dema *strategy.Series
	zero                  *strategy.Series
}

func (s *Supertrend) Name() string { return "Supertrend" }

func (s *Supertrend) Init(ctx *strategy.Context) error {
	f := ctx.Data()
	b := newBuilder(ctx)
	trend, err := indicator.Supertrend(f.Highs(), f.Lows(), f.Closes(), s.window, s.mult)
	if err != nil {
		b.check(nil, err)
	} else {
		s.line = b.add("Supertrend", trend.Line)
		s.direction = b.add("Direction", trend.Direction)
	}
	s.dema = b.add("DEMA", b.check(indicator.DEMA(f.Closes(), s.demaLength)))
	s.zero = b.add("Zero", indicator.Const(0, f.Len()))
	return b.Err()
}

func (s *Supertrend) Next(ctx *strategy.Context) error {
	closePx := ctx.Close().Cur()
	line := s.line.Cur()

	if closePx > s.dema.Cur() && ctx.Crossover(s.direction, s.zero) && line < closePx {
		if err := tolerate(ctx)(ctx.Buy(strategy.SL(line))); err != nil {
			return err
		}
	}

	if ctx.Crossover(s.zero, s.direction) || ctx.Crossover(s.line, ctx.Low()) {
		ctx.ClosePosition()
		return nil
	}
	if trades := ctx.Trades(); len(trades) > 0 {
		trades[len(trades)-1].SetSL(line)
	}
	return nil
}
