package builtins

import (
	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIOscillator)(nil)

var rsiOscillatorSpec = strategy.Spec{
	Name:        "RsiOscillator",
	Description: "Buy when RSI drops below the lower bound, close when it rises above the upper bound.",
	Defaults:    strategy.Params{"rsi_len": 14, "upper_bound": 70, "lower_bound": 30},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "rsi_len"); err != nil {
			return nil, err
		}
		return &RSIOscillator{
			window: p.Int("rsi_len"),
			upper:  p.Float("upper_bound"),
			lower:  p.Float("lower_bound"),
		}, nil
	},
}

// RSIOscillator is a mean-reversion strategy on RSI thresholds.
type RSIOscillator struct {
	window       int
	upper, lower float64

	rsi *strategy.Series
}

func (s *RSIOscillator) Name() string { return "RsiOscillator" }

func (s *RSIOscillator) Init(ctx *strategy.Context) error {
	b := newBuilder(ctx)
	s.rsi = b.add("RSI", b.check(indicator.RSI(ctx.Data().Closes(), s.window)))
	return b.Err()
}

func (s *RSIOscillator) Next(ctx *strategy.Context) error {
	switch {
	case ctx.CrossAbove(s.rsi, s.upper):
		ctx.ClosePosition()
	case ctx.CrossBelow(s.rsi, s.lower):
		_, err := ctx.Buy()
		return err
	}
	return nil
}
