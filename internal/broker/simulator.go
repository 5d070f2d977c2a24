package broker

import (
	"fmt"
	"math"
	"slices"

	"stratbench/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Config holds the simulated account settings.
type Config struct {
	// Cash is the starting balance.
	Cash float64
	// Commission is charged on entry and exit as a fraction of traded value.
	Commission float64
	// Margin is the required margin ratio; 1 means no leverage.
	Margin float64
	// TradeOnClose fills market orders at the close of the bar they were
	// placed on instead of the next open.
	TradeOnClose bool
	// Hedging allows long and short trades to coexist.
	Hedging bool
	// ExclusiveOrders closes open trades and cancels pending orders on
	// every new order.
	ExclusiveOrders bool
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.Cash <= 0 {
		return fmt.Errorf("%w: cash must be positive, got %v", ErrInvalidConfig, c.Cash)
	}
	if c.Margin <= 0 || c.Margin > 1 {
		return fmt.Errorf("%w: margin must be in (0, 1], got %v", ErrInvalidConfig, c.Margin)
	}
	if c.Commission < 0 || c.Commission >= 0.1 {
		return fmt.Errorf("%w: commission must be in [0, 0.1), got %v", ErrInvalidConfig, c.Commission)
	}
	return nil
}

// Simulator replays bars and fills orders against them. Bars are advanced
// with Next; the caller owns the loop.
type Simulator struct {
	cfg      Config
	leverage float64
	bars     []domain.Bar
	i        int

	cash        float64
	orders      []*Order
	trades      []*Trade
	closed      []*Trade
	equity      []float64
	commissions float64
	bankrupt    bool
	nextID      int
}

// NewSimulator creates a Simulator over bars.
func NewSimulator(bars []domain.Bar, cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars", ErrInvalidConfig)
	}
	equity := make([]float64, len(bars))
	for i := range equity {
		equity[i] = cfg.Cash
	}
	return &Simulator{
		cfg:      cfg,
		leverage: 1 / cfg.Margin,
		bars:     bars,
		cash:     cfg.Cash,
		equity:   equity,
	}, nil
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// ---------------------------------------------------------------------------
// Account state
// ---------------------------------------------------------------------------

// Index returns the current bar index.
func (s *Simulator) Index() int { return s.i }

// LastPrice returns the close of the current bar.
func (s *Simulator) LastPrice() float64 { return s.bars[s.i].Close }

// Equity returns cash plus the unrealised P/L of open trades.
func (s *Simulator) Equity() float64 {
	eq := s.cash
	for _, t := range s.trades {
		eq += t.PL()
	}
	return eq
}

// MarginAvailable returns equity not tied up as margin for open trades.
func (s *Simulator) MarginAvailable() float64 {
	used := 0.0
	for _, t := range s.trades {
		used += t.Value() / s.leverage
	}
	return math.Max(0, s.Equity()-used)
}

// Account returns a snapshot of cash, equity and available margin.
func (s *Simulator) Account() Account {
	return Account{Cash: s.cash, Equity: s.Equity(), MarginAvailable: s.MarginAvailable()}
}

// Position aggregates the open trades.
func (s *Simulator) Position() Position {
	var p Position
	var absSize float64
	for _, t := range s.trades {
		p.Size += t.Size
		p.PL += t.PL()
		absSize += math.Abs(t.Size)
	}
	if absSize > 0 {
		for _, t := range s.trades {
			p.PLPct += t.ReturnPct() * 100 * math.Abs(t.Size) / absSize
		}
	}
	return p
}

// ClosePosition closes every open trade at the next fill.
func (s *Simulator) ClosePosition() {
	for _, t := range slices.Clone(s.trades) {
		t.Close(1)
	}
}

// Orders returns a copy of the pending order queue.
func (s *Simulator) Orders() []*Order { return slices.Clone(s.orders) }

// Trades returns a copy of the open trades.
func (s *Simulator) Trades() []*Trade { return slices.Clone(s.trades) }

// ClosedTrades returns a copy of the settled trades.
func (s *Simulator) ClosedTrades() []*Trade { return slices.Clone(s.closed) }

// EquityCurve returns the per-bar equity recorded so far.
func (s *Simulator) EquityCurve() []float64 { return slices.Clone(s.equity) }

// Commissions returns the total commission paid.
func (s *Simulator) Commissions() float64 { return s.commissions }

// Bankrupt reports whether equity was exhausted.
func (s *Simulator) Bankrupt() bool { return s.bankrupt }

// ---------------------------------------------------------------------------
// Order placement
// ---------------------------------------------------------------------------

// SubmitOrder validates and queues a new order.
func (s *Simulator) SubmitOrder(req OrderRequest) (*Order, error) {
	size := req.Size
	if size == 0 || math.IsNaN(size) {
		return nil, fmt.Errorf("%w: size must be non-zero", ErrInvalidOrder)
	}
	if math.Abs(size) >= 1 && math.Round(size) != size {
		return nil, fmt.Errorf("%w: size %v must be a fraction below one or whole units", ErrInvalidOrder, size)
	}
	for _, p := range []float64{req.Limit, req.Stop, req.SL, req.TP} {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: prices must be positive", ErrInvalidOrder)
		}
	}

	price := req.Limit
	if price == 0 {
		price = req.Stop
	}
	if price == 0 {
		price = s.adjustedPrice(size, s.LastPrice())
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if size > 0 {
		if req.SL > 0 {
			lo = req.SL
		}
		if req.TP > 0 {
			hi = req.TP
		}
		if !(lo < price && price < hi) {
			return nil, fmt.Errorf("%w: long orders require SL (%v) < entry (%v) < TP (%v)", ErrInvalidOrder, req.SL, price, req.TP)
		}
	} else {
		if req.TP > 0 {
			lo = req.TP
		}
		if req.SL > 0 {
			hi = req.SL
		}
		if !(lo < price && price < hi) {
			return nil, fmt.Errorf("%w: short orders require TP (%v) < entry (%v) < SL (%v)", ErrInvalidOrder, req.TP, price, req.SL)
		}
	}

	if s.cfg.ExclusiveOrders {
		for _, o := range slices.Clone(s.orders) {
			if !o.IsContingent() {
				o.Cancel()
			}
		}
		s.ClosePosition()
	}

	o := &Order{
		Size:  size,
		Limit: req.Limit,
		Stop:  req.Stop,
		SL:    req.SL,
		TP:    req.TP,
		Tag:   req.Tag,
	}
	s.enqueue(o)
	return o, nil
}

func (s *Simulator) stamp(o *Order) {
	s.nextID++
	o.ID = s.nextID
	o.sim = s
	o.PlacedAtBar = s.i
	o.PlacedAt = s.bars[s.i].Timestamp
}

func (s *Simulator) enqueue(o *Order) {
	s.stamp(o)
	s.orders = append(s.orders, o)
}

// enqueueFront puts closing and contingent orders ahead of new entries.
func (s *Simulator) enqueueFront(o *Order) {
	s.stamp(o)
	s.orders = append([]*Order{o}, s.orders...)
}

func (s *Simulator) removeOrder(o *Order) {
	if i := slices.Index(s.orders, o); i >= 0 {
		s.orders = slices.Delete(s.orders, i, i+1)
	}
}

func (s *Simulator) hasOrder(o *Order) bool { return slices.Contains(s.orders, o) }

func (s *Simulator) adjustedPrice(size, price float64) float64 {
	return price * (1 + math.Copysign(s.cfg.Commission, size))
}

func (s *Simulator) commission(size, price float64) float64 {
	return math.Abs(size) * price * s.cfg.Commission
}

// ---------------------------------------------------------------------------
// Bar processing
// ---------------------------------------------------------------------------

// Next moves to bar i, fills whatever pending orders the bar allows and
// records equity. It returns false once the account is bankrupt.
func (s *Simulator) Next(i int) bool {
	if s.bankrupt {
		return false
	}
	s.i = i
	s.processOrders()

	eq := s.Equity()
	s.equity[i] = eq
	if eq <= 0 {
		for _, t := range slices.Clone(s.trades) {
			s.closeTrade(t, s.LastPrice(), i, ExitMarginCall)
		}
		s.cash = 0
		for j := i; j < len(s.equity); j++ {
			s.equity[j] = 0
		}
		s.bankrupt = true
		return false
	}
	return true
}

// Finish closes any remaining trades at the current close and refreshes
// the final equity value.
func (s *Simulator) Finish() {
	if s.bankrupt {
		return
	}
	for _, t := range slices.Clone(s.trades) {
		s.closeTrade(t, s.LastPrice(), s.i, ExitEndOfData)
	}
	s.equity[s.i] = s.Equity()
	for j := s.i + 1; j < len(s.equity); j++ {
		s.equity[j] = s.equity[s.i]
	}
}

func (s *Simulator) processOrders() {
	bar := s.bars[s.i]
	prevClose := bar.Open
	if s.i > 0 {
		prevClose = s.bars[s.i-1].Close
	}
	reprocess := false

	for _, o := range slices.Clone(s.orders) {
		if !s.hasOrder(o) {
			continue
		}
		if o.parent != nil && o.parent.closed {
			s.removeOrder(o)
			continue
		}

		long := o.IsLong()
		stopPrice := 0.0
		if o.Stop > 0 {
			hit := (long && bar.High >= o.Stop) || (!long && bar.Low <= o.Stop)
			if !hit {
				continue
			}
			stopPrice = o.Stop
			o.Stop = 0
		}

		var price float64
		if o.Limit > 0 {
			hit := (long && bar.Low < o.Limit) || (!long && bar.High > o.Limit)
			hitBeforeStop := hit && stopPrice > 0 &&
				((long && o.Limit <= stopPrice) || (!long && o.Limit >= stopPrice))
			if !hit || hitBeforeStop {
				continue
			}
			ref := bar.Open
			if stopPrice > 0 {
				ref = stopPrice
			}
			if long {
				price = math.Min(ref, o.Limit)
			} else {
				price = math.Max(ref, o.Limit)
			}
		} else {
			price = bar.Open
			if s.cfg.TradeOnClose && stopPrice == 0 && !o.IsContingent() {
				price = prevClose
			}
			if stopPrice > 0 {
				if long {
					price = math.Max(price, stopPrice)
				} else {
					price = math.Min(price, stopPrice)
				}
			}
		}

		isMarket := o.Limit == 0 && stopPrice == 0
		fillBar := s.i
		if isMarket && s.cfg.TradeOnClose && !o.IsContingent() && s.i > 0 {
			fillBar = s.i - 1
		}

		// Closing and contingent orders settle their parent trade.
		if t := o.parent; t != nil {
			reason := ExitSignal
			switch {
			case t.slOrder == o:
				reason = ExitStopLoss
			case t.tpOrder == o:
				reason = ExitTakeProfit
			}
			size := o.Size
			if o.IsContingent() || math.Abs(size) > math.Abs(t.Size) {
				size = -t.Size
			}
			s.removeOrder(o)
			if slices.Contains(s.trades, t) {
				s.reduceTrade(t, price, size, fillBar, reason)
			}
			continue
		}

		adjusted := s.adjustedPrice(o.Size, price)
		size := o.Size
		if math.Abs(size) < 1 {
			size = math.Copysign(math.Floor(s.MarginAvailable()*s.leverage*math.Abs(size)/adjusted), size)
			if size == 0 {
				s.removeOrder(o)
				continue
			}
		}

		need := size
		if !s.cfg.Hedging {
			for _, t := range slices.Clone(s.trades) {
				if math.Signbit(t.Size) == math.Signbit(need) {
					continue
				}
				if math.Abs(need) >= math.Abs(t.Size) {
					s.closeTrade(t, price, fillBar, ExitReversal)
					need += t.Size
				} else {
					s.reduceTrade(t, price, need, fillBar, ExitReversal)
					need = 0
				}
				if need == 0 {
					break
				}
			}
		}

		if math.Abs(need)*adjusted > s.MarginAvailable()*s.leverage {
			s.removeOrder(o)
			continue
		}
		if need != 0 {
			s.openTrade(price, need, o.SL, o.TP, fillBar, o.Tag)
			if (o.SL > 0 || o.TP > 0) && isMarket {
				reprocess = true
			}
		}
		s.removeOrder(o)
	}

	if reprocess {
		s.processOrders()
	}
}

func (s *Simulator) openTrade(price, size, sl, tp float64, bar int, tag string) {
	s.nextID++
	t := &Trade{
		ID:         s.nextID,
		Size:       size,
		EntryPrice: price,
		EntryBar:   bar,
		EntryTime:  s.bars[bar].Timestamp,
		Tag:        tag,
		sim:        s,
	}
	s.trades = append(s.trades, t)
	s.cash -= s.commission(size, price)
	// TP first so the stop-loss sits ahead of it in the queue and wins when
	// both are touched by the same bar.
	if tp > 0 {
		t.SetTP(tp)
	}
	if sl > 0 {
		t.SetSL(sl)
	}
}

// reduceTrade closes size units of t (size has the opposite sign of t.Size).
func (s *Simulator) reduceTrade(t *Trade, price, size float64, bar int, reason ExitReason) {
	if math.Abs(size) >= math.Abs(t.Size) {
		s.closeTrade(t, price, bar, reason)
		return
	}
	s.nextID++
	part := &Trade{
		ID:         s.nextID,
		Size:       -size,
		EntryPrice: t.EntryPrice,
		EntryBar:   t.EntryBar,
		EntryTime:  t.EntryTime,
		Tag:        t.Tag,
		sim:        s,
	}
	t.Size += size
	if t.slOrder != nil {
		t.slOrder.Size = -t.Size
	}
	if t.tpOrder != nil {
		t.tpOrder.Size = -t.Size
	}
	s.trades = append(s.trades, part)
	s.closeTrade(part, price, bar, reason)
}

func (s *Simulator) closeTrade(t *Trade, price float64, bar int, reason ExitReason) {
	if i := slices.Index(s.trades, t); i >= 0 {
		s.trades = slices.Delete(s.trades, i, i+1)
	}
	if t.slOrder != nil {
		s.removeOrder(t.slOrder)
	}
	if t.tpOrder != nil {
		s.removeOrder(t.tpOrder)
	}

	exitFee := s.commission(t.Size, price)
	entryFee := s.commission(t.Size, t.EntryPrice)
	s.cash += t.Size*(price-t.EntryPrice) - exitFee
	s.commissions += exitFee + entryFee

	t.ExitPrice = price
	t.ExitBar = bar
	t.ExitTime = s.bars[bar].Timestamp
	t.ExitReason = reason
	t.Commission = exitFee + entryFee
	t.closed = true
	s.closed = append(s.closed, t)
}
