// Package engine replays a bar frame through a strategy on the simulated
// broker and reports the run's statistics. It also sweeps parameter grids
// concurrently to find the best-performing combination.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"stratbench/internal/broker"
	"stratbench/internal/domain"
	"stratbench/internal/stats"
	"stratbench/internal/strategy"
)

// ErrNoData is returned when a backtest is created over an empty frame.
var ErrNoData = errors.New("no bars to backtest")

// Config holds the account and execution settings of a backtest.
type Config struct {
	Cash            float64 `yaml:"cash" json:"cash" default:"10000" validate:"gt=0"`
	Commission      float64 `yaml:"commission" json:"commission" validate:"gte=0,lt=0.1"`
	Margin          float64 `yaml:"margin" json:"margin" default:"1" validate:"gt=0,lte=1"`
	TradeOnClose    bool    `yaml:"trade_on_close" json:"trade_on_close"`
	Hedging         bool    `yaml:"hedging" json:"hedging"`
	ExclusiveOrders bool    `yaml:"exclusive_orders" json:"exclusive_orders"`
	RiskFreeRate    float64 `yaml:"risk_free_rate" json:"risk_free_rate" validate:"gte=0"`
}

// DefaultConfig returns 10 000 in cash, no commission and no leverage.
func DefaultConfig() Config {
	return Config{Cash: 10_000, Margin: 1}
}

func (c Config) broker() broker.Config {
	return broker.Config{
		Cash:            c.Cash,
		Commission:      c.Commission,
		Margin:          c.Margin,
		TradeOnClose:    c.TradeOnClose,
		Hedging:         c.Hedging,
		ExclusiveOrders: c.ExclusiveOrders,
	}
}

// Backtest runs strategies over one frame with one configuration. It is
// safe to run several strategies on the same Backtest concurrently.
type Backtest struct {
	frame  domain.Frame
	cfg    Config
	logger *slog.Logger
}

// Option configures a Backtest.
type Option func(*Backtest)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backtest) { b.logger = l }
}

// NewBacktest validates the configuration and binds it to frame.
func NewBacktest(frame domain.Frame, cfg Config, opts ...Option) (*Backtest, error) {
	if frame.Empty() {
		return nil, ErrNoData
	}
	if err := cfg.broker().Validate(); err != nil {
		return nil, err
	}
	b := &Backtest{
		frame:  frame,
		cfg:    cfg,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Frame returns the frame the backtest replays.
func (b *Backtest) Frame() domain.Frame { return b.frame }

// Config returns the backtest settings.
func (b *Backtest) Config() Config { return b.cfg }

// Run builds the strategy described by spec with params merged over its defaults
// and replays every bar. Next is first called on the bar after every
// registered indicator has a value. Trades still open after the last bar
// are closed at its close.
func (b *Backtest) Run(ctx context.Context, spec strategy.Spec, params strategy.Params) (*stats.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	strat, resolved, err := spec.Build(params)
	if err != nil {
		return nil, err
	}
	sim, err := broker.NewSimulator(b.frame.Bars, b.cfg.broker())
	if err != nil {
		return nil, err
	}

	logger := b.logger.With("strategy", spec.Name, "symbol", b.frame.Symbol)
	sctx := strategy.NewContext(b.frame, sim, resolved, logger)
	if err := strat.Init(sctx); err != nil {
		return nil, fmt.Errorf("initialising %s: %w", spec.Name, err)
	}

	began := time.Now()
	n := b.frame.Len()
	start := 1 + sctx.Warmup()
	for i := start; i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !sim.Next(i) {
			logger.Warn("account bankrupt", "bar", i, "time", b.frame.Bars[i].Timestamp)
			break
		}
		sctx.SetIndex(i)
		if err := strat.Next(sctx); err != nil {
			return nil, fmt.Errorf("%s on %s: %w", spec.Name, b.frame.Bars[i].Timestamp.Format(domain.DateLayout), err)
		}
	}
	sim.Finish()

	st := stats.Compute(stats.Input{
		Frame:        b.frame,
		Equity:       sim.EquityCurve(),
		Trades:       toStatsTrades(sim.ClosedTrades()),
		Commissions:  sim.Commissions(),
		RiskFreeRate: b.cfg.RiskFreeRate,
	})
	st.Strategy = spec.Name
	st.Params = maps.Clone(resolved)

	logger.Debug("backtest finished",
		"bars", n,
		"start_bar", start,
		"trades", st.NumTrades,
		"return_pct", st.Return,
		"elapsed", time.Since(began),
	)
	return st, nil
}

func toStatsTrades(trades []*broker.Trade) []stats.Trade {
	out := make([]stats.Trade, len(trades))
	for i, t := range trades {
		out[i] = stats.Trade{
			Size:       t.Size,
			EntryBar:   t.EntryBar,
			ExitBar:    t.ExitBar,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			PL:         t.PL(),
			ReturnPct:  t.ReturnPct(),
			Commission: t.Commission,
			ExitReason: string(t.ExitReason),
			Tag:        t.Tag,
		}
	}
	return out
}
