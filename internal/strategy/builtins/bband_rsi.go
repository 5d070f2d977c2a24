package builtins

import (
	"time"

	"stratbench/internal/indicator"
	"stratbench/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*BBandRSI)(nil)

var bbandRsiSpec = strategy.Spec{
	Name:        "BBandRsi",
	Description: "Fade closes outside the Bollinger bands after a sustained run on one side of the long SMA.",
	Defaults: strategy.Params{
		"rsi_length":        2,
		"sma_length":        200,
		"bbands_length":     20,
		"bbands_std":        2.5,
		"order_time_max":    5,
		"trade_time_max":    10,
		"rsi_upper_limit":   70,
		"rsi_lower_limit":   30,
		"order_size":        99,
		"stoploss_factor":   5,
		"buy_limit_offset":  0,
		"sell_limit_offset": 0,
	},
	New: newBBandRSI,
}

// minRunLength is the number of consecutive bars the price must stay on one
// side of the SMA before a band touch is traded.
const minRunLength = 6

func newBBandRSI(p strategy.Params) (strategy.Strategy, error) {
	if err := checkPositive(p, "rsi_length", "sma_length", "bbands_length", "bbands_std", "order_size"); err != nil {
		return nil, err
	}
	return &BBandRSI{
		rsiLength:   p.Int("rsi_length"),
		smaLength:   p.Int("sma_length"),
		bandsLength: p.Int("bbands_length"),
		bandsStd:    p.Float("bbands_std"),
		orderTTL:    days(p.Float("order_time_max")),
		tradeTTL:    days(p.Float("trade_time_max")),
		rsiUpper:    p.Float("rsi_upper_limit"),
		rsiLower:    p.Float("rsi_lower_limit"),
		orderSize:   min(p.Float("order_size")/100, strategy.DefaultSize),
		stopLoss:    p.Float("stoploss_factor") / 100,
		buyOffset:   p.Float("buy_limit_offset") / 100,
		sellOffset:  p.Float("sell_limit_offset") / 100,
	}, nil
}

func days(n float64) time.Duration { return time.Duration(n * float64(24*time.Hour)) }

// BBandRSI buys limit orders after a close below the lower band when the
// lows have held above the SMA for a while, and sells the mirror image.
// Orders and trades expire after a configured number of days; RSI extremes
// close trades early.
type BBandRSI struct {
	rsiLength, smaLength, bandsLength int
	bandsStd                          float64
	orderTTL, tradeTTL                time.Duration
	rsiUpper, rsiLower                float64
	orderSize, stopLoss               float64
	buyOffset, sellOffset             float64

	sma, rsi, lower, upper *strategy.Series
	above, below           int
}

func (s *BBandRSI) Name() string { return "BBandRsi" }

func (s *BBandRSI) Init(ctx *strategy.Context) error {
	closes := ctx.Data().Closes()
	b := newBuilder(ctx)
	s.sma = b.add("SMA", b.check(indicator.SMA(closes, s.smaLength)))
	s.rsi = b.add("RSI", b.check(indicator.RSI(closes, s.rsiLength)))
	bands, err := indicator.BBands(closes, s.bandsLength, s.bandsStd)
	if err != nil {
		b.check(nil, err)
	} else {
		s.lower = b.add("BBL", bands.Lower)
		s.upper = b.add("BBU", bands.Upper)
	}
	s.above, s.below = 0, 0
	return b.Err()
}

func (s *BBandRSI) Next(ctx *strategy.Context) error {
	closePx := ctx.Close().Cur()
	sma := s.sma.Cur()

	if ctx.Low().Cur() > sma {
		s.above++
	} else {
		s.above = 0
	}
	if ctx.High().Cur() < sma {
		s.below++
	} else {
		s.below = 0
	}
	buySignal := s.above >= minRunLength && s.lower.Cur() > closePx
	sellSignal := s.below >= minRunLength && closePx > s.upper.Cur()

	now := ctx.Time()
	for _, o := range ctx.Orders() {
		if !o.IsContingent() && now.Sub(o.PlacedAt) > s.orderTTL {
			o.Cancel()
		}
	}

	trades := ctx.Trades()
	if len(trades) > 0 {
		last := trades[len(trades)-1]
		rsi := s.rsi.Cur()
		switch {
		case now.Sub(last.EntryTime) >= s.tradeTTL:
			last.Close(1)
		case last.IsLong() && rsi >= s.rsiUpper:
			last.Close(1)
		case !last.IsLong() && rsi <= s.rsiLower:
			last.Close(1)
		}
		return nil
	}

	switch {
	case buySignal:
		limit := closePx * (1 - s.buyOffset)
		ctx.CancelOrders()
		opts := []strategy.OrderOption{strategy.Limit(limit), strategy.Size(s.orderSize)}
		if s.stopLoss > 0 {
			opts = append(opts, strategy.SL(limit*(1-s.stopLoss)))
		}
		_, err := ctx.Buy(opts...)
		return err
	case sellSignal:
		limit := closePx * (1 + s.sellOffset)
		ctx.CancelOrders()
		opts := []strategy.OrderOption{strategy.Limit(limit), strategy.Size(s.orderSize)}
		if s.stopLoss > 0 {
			opts = append(opts, strategy.SL(limit*(1+s.stopLoss)))
		}
		_, err := ctx.Sell(opts...)
		return err
	}
	return nil
}
