// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry of strategy factories keyed by name.
package strategy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownStrategy is returned when a name is not in the registry.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init runs once before the first bar. Indicators are computed here over
	// the full data and registered with ctx.I so the engine knows how many
	// warm-up bars to skip.
	Init(ctx *Context) error

	// Next is called once per bar after warm-up. The context exposes data up
	// to and including the current bar.
	Next(ctx *Context) error
}

// Factory builds a strategy from a complete parameter set.
type Factory func(p Params) (Strategy, error)

// Spec describes a registered strategy.
type Spec struct {
	Name        string
	Description string
	Defaults    Params
	New         Factory
}

// Build merges overrides into the defaults and constructs the strategy.
func (s Spec) Build(overrides Params) (Strategy, Params, error) {
	params, err := s.Defaults.Merge(overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	strat, err := s.New(params)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", s.Name, err)
	}
	return strat, params, nil
}

// Registry holds a named collection of strategy specs for lookup and
// enumeration.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]Spec),
	}
}

// Register adds s to the registry, keyed by its Name. A later
// registration under the same name replaces the earlier one.
func (r *Registry) Register(s Spec) {
	r.specs[s.Name] = s
}

// Get retrieves a Spec by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Lookup is Get with an error for unknown names.
func (r *Registry) Lookup(name string) (Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns every registered Spec sorted by name.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, name := range r.List() {
		out = append(out, r.specs[name])
	}
	return out
}
