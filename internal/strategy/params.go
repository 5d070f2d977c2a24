package strategy

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrUnknownParam is returned for a parameter the strategy does not
	// declare.
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrEmptyCandidates is returned for a grid entry with no values.
	ErrEmptyCandidates = errors.New("parameter has no candidate values")
)

// Params maps parameter names to scalar values. Integer and boolean
// parameters are stored as float64 and read back with Int and Bool.
type Params map[string]float64

// Float returns the named value, or zero.
func (p Params) Float(name string) float64 { return p[name] }

// Int returns the named value rounded to the nearest integer.
func (p Params) Int(name string) int { return int(math.Round(p[name])) }

// Bool returns true for any non-zero value.
func (p Params) Bool(name string) bool { return p[name] != 0 }

// Clone returns a copy of p.
func (p Params) Clone() Params { return maps.Clone(p) }

// Merge returns a copy of p with overrides applied. Every override must name
// a parameter already present in p.
func (p Params) Merge(overrides Params) (Params, error) {
	out := p.Clone()
	if out == nil {
		out = Params{}
	}
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		if _, ok := out[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParam, k)
		}
		out[k] = overrides[k]
	}
	return out, nil
}

// String renders the parameters as "a=1,b=2" in key order.
func (p Params) String() string {
	parts := make([]string, 0, len(p))
	for _, k := range slices.Sorted(maps.Keys(p)) {
		parts = append(parts, k+"="+strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

// ---------------------------------------------------------------------------
// Grid
// ---------------------------------------------------------------------------

// Grid maps parameter names to candidate values for an optimisation sweep.
type Grid map[string][]float64

// Validate rejects empty candidate lists.
func (g Grid) Validate() error {
	for _, k := range slices.Sorted(maps.Keys(g)) {
		if len(g[k]) == 0 {
			return fmt.Errorf("%w: %q", ErrEmptyCandidates, k)
		}
	}
	return nil
}

// NeedsOptimization reports whether any parameter has more than one
// candidate.
func (g Grid) NeedsOptimization() bool {
	for _, v := range g {
		if len(v) > 1 {
			return true
		}
	}
	return false
}

// First returns the first candidate of every parameter.
func (g Grid) First() Params {
	out := make(Params, len(g))
	for k, v := range g {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Size returns the number of combinations in the grid.
func (g Grid) Size() int {
	n := 1
	for _, v := range g {
		n *= len(v)
	}
	return n
}

// Combinations returns the cartesian product of the grid. Keys vary in
// sorted order with the last key changing fastest.
func (g Grid) Combinations() []Params {
	keys := slices.Sorted(maps.Keys(g))
	if len(keys) == 0 {
		return []Params{{}}
	}
	out := []Params{{}}
	for _, k := range keys {
		next := make([]Params, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				p := base.Clone()
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// ParseGrid parses "a=1|2|3,b=0.5" into a Grid.
func ParseGrid(s string) (Grid, error) {
	g := Grid{}
	s = strings.TrimSpace(s)
	if s == "" {
		return g, nil
	}
	for _, part := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("parsing parameter %q: want name=value", part)
		}
		for _, tok := range strings.Split(raw, "|") {
			v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
			if err != nil {
				return nil, fmt.Errorf("parsing parameter %q: %w", name, err)
			}
			g[name] = append(g[name], v)
		}
	}
	return g, nil
}

// Range returns start, start+step, ... up to and including stop.
func Range(start, stop, step float64) []float64 {
	if step <= 0 {
		return nil
	}
	var out []float64
	for v := start; v <= stop+step*1e-9; v += step {
		out = append(out, v)
	}
	return out
}
