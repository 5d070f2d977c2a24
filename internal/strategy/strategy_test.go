package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"stratbench/internal/broker"
	"stratbench/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string          { return s.name }
func (s *stubStrategy) Init(_ *Context) error { return nil }
func (s *stubStrategy) Next(_ *Context) error { return nil }

func stubSpec(name string, defaults Params) Spec {
	return Spec{
		Name:     name,
		Defaults: defaults,
		New: func(Params) (Strategy, error) {
			return &stubStrategy{name: name}, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubSpec("test-strategy", nil))

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name != "test-strategy" {
		t.Errorf("Get returned spec with Name = %q, want %q", got.Name, "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.Lookup("nonexistent"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Lookup error = %v, want ErrUnknownStrategy", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(stubSpec("beta", nil))
	r.Register(stubSpec("alpha", nil))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
	if specs := r.Specs(); specs[0].Name != "alpha" {
		t.Errorf("Specs()[0] = %q, want alpha", specs[0].Name)
	}
}

func TestSpecBuild(t *testing.T) {
	s := stubSpec("x", Params{"n": 10, "k": 2})

	_, p, err := s.Build(Params{"n": 5})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Int("n") != 5 || p.Float("k") != 2 {
		t.Errorf("Build params = %v, want n=5 k=2", p)
	}

	if _, _, err := s.Build(Params{"bogus": 1}); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("Build with unknown param error = %v, want ErrUnknownParam", err)
	}
}

// ---------------------------------------------------------------------------
// Params and Grid
// ---------------------------------------------------------------------------

func TestParamsAccessors(t *testing.T) {
	p := Params{"n": 9.6, "on": 1, "off": 0}
	if p.Int("n") != 10 {
		t.Errorf("Int(n) = %d, want 10", p.Int("n"))
	}
	if !p.Bool("on") || p.Bool("off") {
		t.Error("Bool accessors wrong")
	}
	if got := p.String(); got != "n=9.6,off=0,on=1" {
		t.Errorf("String() = %q", got)
	}
}

func TestGridCombinations(t *testing.T) {
	g := Grid{"b": {1, 2}, "a": {10, 20, 30}}
	combos := g.Combinations()
	if len(combos) != 6 || g.Size() != 6 {
		t.Fatalf("got %d combinations, want 6", len(combos))
	}
	if combos[0]["a"] != 10 || combos[0]["b"] != 1 {
		t.Errorf("combos[0] = %v", combos[0])
	}
	if combos[1]["a"] != 10 || combos[1]["b"] != 2 {
		t.Errorf("combos[1] = %v, last key should vary fastest", combos[1])
	}
	if combos[5]["a"] != 30 || combos[5]["b"] != 2 {
		t.Errorf("combos[5] = %v", combos[5])
	}
	if !g.NeedsOptimization() {
		t.Error("NeedsOptimization = false, want true")
	}
	if (Grid{"a": {1}}).NeedsOptimization() {
		t.Error("single candidates should not need optimization")
	}
}

func TestGridValidate(t *testing.T) {
	if err := (Grid{"a": {}}).Validate(); !errors.Is(err, ErrEmptyCandidates) {
		t.Errorf("Validate() = %v, want ErrEmptyCandidates", err)
	}
}

func TestParseGrid(t *testing.T) {
	g, err := ParseGrid("n1=5|10, n2=20")
	if err != nil {
		t.Fatalf("ParseGrid: %v", err)
	}
	if len(g["n1"]) != 2 || g["n1"][1] != 10 || g["n2"][0] != 20 {
		t.Errorf("ParseGrid = %v", g)
	}
	if _, err := ParseGrid("n1"); err == nil {
		t.Error("ParseGrid without '=' should fail")
	}
	if _, err := ParseGrid("n1=x"); err == nil {
		t.Error("ParseGrid with bad number should fail")
	}
}

func TestRange(t *testing.T) {
	got := Range(5, 15, 5)
	if len(got) != 3 || got[2] != 15 {
		t.Errorf("Range(5,15,5) = %v", got)
	}
	if Range(1, 2, 0) != nil {
		t.Error("Range with zero step should be nil")
	}
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

func testContext(t *testing.T, closes ...float64) (*Context, *broker.Simulator) {
	t.Helper()
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: "T", Timestamp: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	sim, err := broker.NewSimulator(bars, broker.Config{Cash: 10_000, Margin: 1})
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	frame := domain.NewFrame("T", domain.Interval1d, bars)
	return NewContext(frame, sim, Params{}, nil), sim
}

func TestContextSeriesAgo(t *testing.T) {
	ctx, _ := testContext(t, 10, 11, 12, 13)
	ctx.SetIndex(2)

	if got := ctx.Close().Cur(); got != 12 {
		t.Errorf("Cur() = %v, want 12", got)
	}
	if got := ctx.Close().Ago(2); got != 10 {
		t.Errorf("Ago(2) = %v, want 10", got)
	}
	if got := ctx.Close().Ago(3); !math.IsNaN(got) {
		t.Errorf("Ago(3) = %v, want NaN", got)
	}
	if got := ctx.Close().Ago(-1); !math.IsNaN(got) {
		t.Errorf("Ago(-1) = %v, want NaN (no look-ahead)", got)
	}
	if got := len(ctx.Close().Values()); got != 3 {
		t.Errorf("len(Values()) = %d, want 3", got)
	}
}

func TestContextIndicatorWarmup(t *testing.T) {
	ctx, _ := testContext(t, 1, 2, 3, 4, 5)
	nan := math.NaN()

	if _, err := ctx.I("a", []float64{nan, 1, 1, 1, 1}); err != nil {
		t.Fatalf("I(a): %v", err)
	}
	if _, err := ctx.I("b", []float64{nan, nan, nan, 1, 1}); err != nil {
		t.Fatalf("I(b): %v", err)
	}
	if got := ctx.Warmup(); got != 3 {
		t.Errorf("Warmup() = %d, want 3", got)
	}
	if _, err := ctx.I("c", []float64{1}); err == nil {
		t.Error("I with short column should fail")
	}
	if _, err := ctx.I("a", []float64{1, 1, 1, 1, 1}); err == nil {
		t.Error("I with duplicate name should fail")
	}
	if got := ctx.Indicators(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Indicators() = %v", got)
	}
}

func TestContextCrossover(t *testing.T) {
	ctx, _ := testContext(t, 1, 2, 3)
	a, _ := ctx.I("a", []float64{1, 3, 3})
	b, _ := ctx.I("b", []float64{2, 2, 2})

	ctx.SetIndex(1)
	if !ctx.Crossover(a, b) {
		t.Error("Crossover(a, b) at 1 = false, want true")
	}
	if !ctx.CrossAbove(a, 2) || ctx.CrossBelow(a, 2) {
		t.Error("CrossAbove/CrossBelow wrong at 1")
	}
	ctx.SetIndex(2)
	if ctx.Crossover(a, b) {
		t.Error("Crossover(a, b) at 2 = true, want false")
	}
}

func TestContextBuySell(t *testing.T) {
	ctx, sim := testContext(t, 100, 100, 100)

	o, err := ctx.Buy()
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if o.Size != DefaultSize {
		t.Errorf("default size = %v, want %v", o.Size, DefaultSize)
	}
	ctx.CancelOrders()
	if len(ctx.Orders()) != 0 {
		t.Fatalf("CancelOrders left %d orders", len(ctx.Orders()))
	}

	o, err = ctx.Sell(Size(5), Limit(105), Tag("short"))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if o.Size != -5 || o.Limit != 105 || o.Tag != "short" {
		t.Errorf("Sell order = %+v", o)
	}

	if _, err := ctx.Buy(SL(120)); !errors.Is(err, broker.ErrInvalidOrder) {
		t.Errorf("Buy with SL above price error = %v, want ErrInvalidOrder", err)
	}

	ctx.CancelOrders()
	if _, err := ctx.Buy(Size(10)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	sim.Next(1)
	ctx.SetIndex(1)
	if got := ctx.Position().Size; got != 10 {
		t.Fatalf("position = %v, want 10", got)
	}
	ctx.ClosePosition()
	sim.Next(2)
	ctx.SetIndex(2)
	if !ctx.Position().Flat() || len(ctx.ClosedTrades()) != 1 {
		t.Errorf("position not closed: %+v", ctx.Position())
	}
	if ctx.Equity() != 10_000 || ctx.Cash() != 10_000 {
		t.Errorf("equity = %v cash = %v, want 10000", ctx.Equity(), ctx.Cash())
	}
}
