package builtins

import (
	"fmt"

	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

var smaCrossSpec = strategy.Spec{
	Name:        "SmaCross",
	Description: "Long when the fast SMA crosses above the slow one, short on the opposite cross.",
	Defaults:    strategy.Params{"n1": 10, "n2": 20},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "n1", "n2"); err != nil {
			return nil, err
		}
		return NewSMACross(p.Int("n1"), p.Int("n2")), nil
	},
}

// SMACross implements a simple moving average crossover strategy. It goes
// long when the short-period SMA crosses above the long-period SMA and
// short when it crosses below, closing the opposite position first.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	fast, slow *strategy.Series
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "SmaCross".
func (s *SMACross) Name() string {
	return "SmaCross"
}

// Init computes both moving averages over the close.
func (s *SMACross) Init(ctx *strategy.Context) error {
	closes := ctx.Data().Closes()
	b := newBuilder(ctx)
	s.fast = b.add(fmt.Sprintf("SMA1(%d)", s.shortPeriod), b.check(indicator.SMA(closes, s.shortPeriod)))
	s.slow = b.add(fmt.Sprintf("SMA2(%d)", s.longPeriod), b.check(indicator.SMA(closes, s.longPeriod)))
	return b.Err()
}

// Next trades the crossover.
func (s *SMACross) Next(ctx *strategy.Context) error {
	switch {
	case ctx.Crossover(s.fast, s.slow):
		ctx.ClosePosition()
		_, err := ctx.Buy()
		return err
	case ctx.Crossover(s.slow, s.fast):
		ctx.ClosePosition()
		_, err := ctx.Sell()
		return err
	}
	return nil
}
