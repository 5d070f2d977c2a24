package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"stratbench/internal/broker"
	"stratbench/internal/domain"
	"stratbench/internal/indicator"
)

// DefaultSize is the order size used when none is given: nearly all
// available margin, leaving room for rounding.
const DefaultSize = 0.9999

// Context is what a strategy sees on every call. Data and indicators are
// computed over the whole frame in Init but are only addressable up to the
// current bar through Series.
type Context struct {
	frame  domain.Frame
	broker broker.Broker
	params Params
	logger *slog.Logger
	i      int

	open, high, low, close, volume *Series

	indicators map[string]*Series
	names      []string
}

// NewContext binds a frame and a broker for one run.
func NewContext(frame domain.Frame, b broker.Broker, params Params, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		frame:      frame,
		broker:     b,
		params:     params,
		logger:     logger,
		indicators: make(map[string]*Series),
	}
	c.open = &Series{name: "Open", values: frame.Opens(), ctx: c}
	c.high = &Series{name: "High", values: frame.Highs(), ctx: c}
	c.low = &Series{name: "Low", values: frame.Lows(), ctx: c}
	c.close = &Series{name: "Close", values: frame.Closes(), ctx: c}
	c.volume = &Series{name: "Volume", values: frame.Volumes(), ctx: c}
	return c
}

// SetIndex moves the context to bar i.
func (c *Context) SetIndex(i int) { c.i = i }

// Index returns the current bar index.
func (c *Context) Index() int { return c.i }

// Len returns the total number of bars in the frame.
func (c *Context) Len() int { return c.frame.Len() }

// Bar returns the current bar.
func (c *Context) Bar() domain.Bar { return c.frame.Bars[c.i] }

// Time returns the current bar's timestamp.
func (c *Context) Time() time.Time { return c.frame.Bars[c.i].Timestamp }

// Data returns the full frame. Strategies use it in Init to compute
// indicators.
func (c *Context) Data() domain.Frame { return c.frame }

// Params returns the resolved parameters of the run.
func (c *Context) Params() Params { return c.params }

// Logger returns the run's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

func (c *Context) Open() *Series   { return c.open }
func (c *Context) High() *Series   { return c.high }
func (c *Context) Low() *Series    { return c.low }
func (c *Context) Close() *Series  { return c.close }
func (c *Context) Volume() *Series { return c.volume }

// ---------------------------------------------------------------------------
// Indicators
// ---------------------------------------------------------------------------

// I registers a precomputed indicator column. The column must cover every
// bar; its leading NaNs push back the first bar Next is called on.
func (c *Context) I(name string, values []float64) (*Series, error) {
	if len(values) != c.frame.Len() {
		return nil, fmt.Errorf("indicator %s: %w: got %d values for %d bars",
			name, indicator.ErrLengthMismatch, len(values), c.frame.Len())
	}
	if _, ok := c.indicators[name]; ok {
		return nil, fmt.Errorf("indicator %s registered twice", name)
	}
	s := &Series{name: name, values: values, ctx: c}
	c.indicators[name] = s
	c.names = append(c.names, name)
	return s, nil
}

// Indicator returns a registered indicator by name.
func (c *Context) Indicator(name string) (*Series, bool) {
	s, ok := c.indicators[name]
	return s, ok
}

// Indicators returns the registered indicator names in registration order.
func (c *Context) Indicators() []string { return slices.Clone(c.names) }

// Warmup returns the first bar index at which every registered indicator
// has a value.
func (c *Context) Warmup() int {
	w := 0
	for _, s := range c.indicators {
		w = max(w, indicator.FirstValid(s.values))
	}
	return w
}

// Crossover reports whether a crossed above b on the current bar.
func (c *Context) Crossover(a, b *Series) bool {
	return indicator.Crossover(a.values, b.values, c.i)
}

// CrossAbove reports whether a crossed above level on the current bar.
func (c *Context) CrossAbove(a *Series, level float64) bool {
	return c.i > 0 && a.values[c.i-1] < level && a.values[c.i] > level
}

// CrossBelow reports whether a crossed below level on the current bar.
func (c *Context) CrossBelow(a *Series, level float64) bool {
	return c.i > 0 && a.values[c.i-1] > level && a.values[c.i] < level
}

// ---------------------------------------------------------------------------
// Orders and account
// ---------------------------------------------------------------------------

// OrderOption adjusts an order request.
type OrderOption func(*broker.OrderRequest)

// Size sets the order size. Below one it is a fraction of available margin.
func Size(v float64) OrderOption { return func(r *broker.OrderRequest) { r.Size = v } }

// Limit sets a limit price.
func Limit(v float64) OrderOption { return func(r *broker.OrderRequest) { r.Limit = v } }

// Stop sets a stop price that turns the order active once touched.
func Stop(v float64) OrderOption { return func(r *broker.OrderRequest) { r.Stop = v } }

// SL attaches a stop-loss to the resulting trade.
func SL(v float64) OrderOption { return func(r *broker.OrderRequest) { r.SL = v } }

// TP attaches a take-profit to the resulting trade.
func TP(v float64) OrderOption { return func(r *broker.OrderRequest) { r.TP = v } }

// Tag labels the order and the trade it opens.
func Tag(v string) OrderOption { return func(r *broker.OrderRequest) { r.Tag = v } }

// Buy places a long order.
func (c *Context) Buy(opts ...OrderOption) (*broker.Order, error) {
	return c.submit(1, opts)
}

// Sell places a short order.
func (c *Context) Sell(opts ...OrderOption) (*broker.Order, error) {
	return c.submit(-1, opts)
}

func (c *Context) submit(sign float64, opts []OrderOption) (*broker.Order, error) {
	req := broker.OrderRequest{Size: DefaultSize}
	for _, opt := range opts {
		opt(&req)
	}
	req.Size = math.Copysign(req.Size, sign)
	o, err := c.broker.SubmitOrder(req)
	if err != nil {
		return nil, fmt.Errorf("bar %d: %w", c.i, err)
	}
	return o, nil
}

// Position returns the aggregate open position.
func (c *Context) Position() broker.Position { return c.broker.Position() }

// ClosePosition closes every open trade at the next fill.
func (c *Context) ClosePosition() {
	for _, t := range c.broker.Trades() {
		t.Close(1)
	}
}

// CancelOrders cancels every pending order that is not a trade's stop-loss
// or take-profit.
func (c *Context) CancelOrders() {
	for _, o := range c.broker.Orders() {
		if !o.IsContingent() {
			o.Cancel()
		}
	}
}

// Trades returns the open trades, oldest first.
func (c *Context) Trades() []*broker.Trade { return c.broker.Trades() }

// Orders returns the pending orders.
func (c *Context) Orders() []*broker.Order { return c.broker.Orders() }

// ClosedTrades returns the settled trades.
func (c *Context) ClosedTrades() []*broker.Trade { return c.broker.ClosedTrades() }

// Equity returns cash plus open P/L.
func (c *Context) Equity() float64 { return c.broker.Account().Equity }

// Cash returns the settled cash balance.
func (c *Context) Cash() float64 { return c.broker.Account().Cash }

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// Series is a column of per-bar values addressed relative to the current
// bar.
type Series struct {
	name   string
	values []float64
	ctx    *Context
}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Cur returns the value on the current bar.
func (s *Series) Cur() float64 { return s.Ago(0) }

// Ago returns the value n bars before the current one, or NaN when that is
// before the first bar.
func (s *Series) Ago(n int) float64 {
	i := s.ctx.i - n
	if i < 0 || i > s.ctx.i || i >= len(s.values) {
		return math.NaN()
	}
	return s.values[i]
}

// Values returns the values up to and including the current bar.
func (s *Series) Values() []float64 { return s.values[:s.ctx.i+1] }
