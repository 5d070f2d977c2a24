package builtins

import (
	"math/rand/v2"

	"stratbench/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*BuyAndHold)(nil)
	_ strategy.Strategy = (*Random)(nil)
)

var buyAndHoldSpec = strategy.Spec{
	Name:        "BuyAndHold",
	Description: "Buy on the first tradable bar and hold until the end.",
	Defaults:    strategy.Params{},
	New: func(strategy.Params) (strategy.Strategy, error) {
		return &BuyAndHold{}, nil
	},
}

// BuyAndHold buys whenever it is flat. It is the baseline every other
// strategy is compared against.
type BuyAndHold struct{}

func (s *BuyAndHold) Name() string                   { return "BuyAndHold" }
func (s *BuyAndHold) Init(_ *strategy.Context) error { return nil }

func (s *BuyAndHold) Next(ctx *strategy.Context) error {
	if !ctx.Position().Flat() || len(ctx.Orders()) > 0 {
		return nil
	}
	_, err := ctx.Buy()
	return err
}

var randomSpec = strategy.Spec{
	Name:        "Random",
	Description: "Seeded coin flip between buying, closing and holding.",
	Defaults:    strategy.Params{"seed": 42},
	New: func(p strategy.Params) (strategy.Strategy, error) {
		seed := uint64(p.Int("seed"))
		return &Random{rng: rand.New(rand.NewPCG(seed, seed))}, nil
	},
}

// Random picks buy, close or hold uniformly each bar. Buys only happen when
// flat and closes only when in a position.
type Random struct {
	rng *rand.Rand
}

func (s *Random) Name() string                   { return "Random" }
func (s *Random) Init(_ *strategy.Context) error { return nil }

func (s *Random) Next(ctx *strategy.Context) error {
	flat := ctx.Position().Flat()
	switch s.rng.IntN(3) {
	case 0:
		if flat && len(ctx.Orders()) == 0 {
			_, err := ctx.Buy()
			return err
		}
	case 1:
		if !flat {
			ctx.ClosePosition()
		}
	}
	return nil
}
