// Package builtins provides the strategy implementations that ship with
// stratbench.
package builtins

import (
	"errors"
	"fmt"

	"stratbench/internal/broker"
	"stratbench/internal/strategy"
)

// Specs returns the Spec of every built-in strategy.
func Specs() []strategy.Spec {
	return []strategy.Spec{
		buyAndHoldSpec,
		smaCrossSpec,
		rsiOscillatorSpec,
		bbandRsiSpec,
		maxMinSpec,
		maxMinRegimeSpec,
		minMaxSpec,
		nineOneSpec,
		supertrendSpec,
		breakoutSpec,
		rangeReversionSpec,
		randomSpec,
	}
}

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	for _, s := range Specs() {
		r.Register(s)
	}
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// builder registers indicator columns on a context, keeping the first error.
type builder struct {
	ctx *strategy.Context
	err error
}

func newBuilder(ctx *strategy.Context) *builder { return &builder{ctx: ctx} }

// check records err and passes values through.
func (b *builder) check(values []float64, err error) []float64 {
	if err != nil && b.err == nil {
		b.err = err
	}
	return values
}

// add registers values under name unless an earlier step failed.
func (b *builder) add(name string, values []float64) *strategy.Series {
	if b.err != nil {
		return nil
	}
	s, err := b.ctx.I(name, values)
	if err != nil {
		b.err = err
		return nil
	}
	return s
}

func (b *builder) Err() error {
	if b.err != nil {
		return fmt.Errorf("computing indicators: %w", b.err)
	}
	return nil
}

// tolerate drops orders whose data-derived brackets the broker rejects,
// which happens when a bar gaps through the computed level. Other errors
// still abort the run.
func tolerate(ctx *strategy.Context) func(*broker.Order, error) error {
	return func(_ *broker.Order, err error) error {
		if errors.Is(err, broker.ErrInvalidOrder) {
			ctx.Logger().Debug("order rejected", "bar", ctx.Index(), "error", err)
			return nil
		}
		return err
	}
}

// checkPositive rejects non-positive parameter values.
func checkPositive(p strategy.Params, names ...string) error {
	for _, n := range names {
		if p.Float(n) <= 0 {
			return fmt.Errorf("%s must be positive, got %v", n, p.Float(n))
		}
	}
	return nil
}
