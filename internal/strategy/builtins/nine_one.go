package builtins

import (
	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*NineOne)(nil)

// tick is the offset added to a bar's extreme to arm an entry or exit.
const tick = 0.01

var nineOneSpec = strategy.Spec{
	Name:        "NineOne",
	Description: "Trade turns of the 9-period EMA, entering above the turning bar's high.",
	Defaults:    strategy.Params{"ema_length": 9},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		if err := checkPositive(p, "ema_length"); err != nil {
			return nil, err
		}
		return &NineOne{window: p.Int("ema_length")}, nil
	},
}

// NineOne watches the EMA for turning points. An upturn arms an entry one
// tick above the bar's high; a close through it buys with a stop at the
// lowest low seen since arming. A downturn while in a position arms an exit
// one tick above the bar's low, and a close below that exits.
type NineOne struct {
	window int

	ema *strategy.Series

	// Zero means not armed.
	entryPrice    float64
	exitPrice     float64
	lowSinceEntry float64
}

func (s *NineOne) Name() string { return "NineOne" }

func (s *NineOne) Init(ctx *strategy.Context) error {
	b := newBuilder(ctx)
	s.ema = b.add("EMA", b.check(indicator.EMA(ctx.Data().Closes(), s.window)))
	s.entryPrice, s.exitPrice, s.lowSinceEntry = 0, 0, 0
	return b.Err()
}

func (s *NineOne) Next(ctx *strategy.Context) error {
	e0, e1, e2 := s.ema.Ago(0), s.ema.Ago(1), s.ema.Ago(2)
	closePx, high, low := ctx.Close().Cur(), ctx.High().Cur(), ctx.Low().Cur()

	if ctx.Position().Flat() {
		switch {
		case e0 > e1 && e1 < e2:
			s.entryPrice = high + tick
			s.lowSinceEntry = low
		case e1 > e0:
			s.entryPrice = 0
		}
	} else if low < s.lowSinceEntry {
		s.lowSinceEntry = low
	}

	if s.entryPrice > 0 && closePx > s.entryPrice {
		if ctx.Position().Flat() {
			if err := tolerate(ctx)(ctx.Buy(strategy.SL(s.lowSinceEntry))); err != nil {
				return err
			}
		}
		s.entryPrice = 0
	}

	if !ctx.Position().Flat() {
		switch {
		case e0 < e1 && e1 > e2:
			s.exitPrice = low + tick
		case e1 < e0:
			s.exitPrice = 0
		}
	}

	if s.exitPrice > 0 && closePx < s.exitPrice {
		if !ctx.Position().Flat() {
			ctx.ClosePosition()
		}
		s.exitPrice = 0
	}
	return nil
}
