package broker

import (
	"math"
	"time"
)

// Order is a pending order held by the Simulator.
type Order struct {
	ID          int
	Size        float64
	Limit       float64
	Stop        float64
	SL          float64
	TP          float64
	Tag         string
	PlacedAt    time.Time
	PlacedAtBar int

	sim    *Simulator
	parent *Trade
}

// IsLong reports a buy order.
func (o *Order) IsLong() bool { return o.Size > 0 }

// IsContingent reports whether the order is the stop-loss or take-profit of
// an open trade.
func (o *Order) IsContingent() bool {
	return o.parent != nil && (o.parent.slOrder == o || o.parent.tpOrder == o)
}

// Parent returns the trade a closing or contingent order belongs to.
func (o *Order) Parent() *Trade { return o.parent }

// Cancel withdraws the order. Cancelling a contingent order clears the
// parent trade's SL or TP.
func (o *Order) Cancel() {
	if o.sim != nil {
		o.sim.removeOrder(o)
	}
	if o.parent != nil {
		if o.parent.slOrder == o {
			o.parent.slOrder = nil
		}
		if o.parent.tpOrder == o {
			o.parent.tpOrder = nil
		}
	}
}

// Trade is an open or settled position leg.
type Trade struct {
	ID         int
	Size       float64
	EntryPrice float64
	EntryBar   int
	EntryTime  time.Time
	ExitPrice  float64
	ExitBar    int
	ExitTime   time.Time
	ExitReason ExitReason
	Commission float64
	Tag        string

	closed  bool
	sim     *Simulator
	slOrder *Order
	tpOrder *Order
}

// IsLong reports a long trade.
func (t *Trade) IsLong() bool { return t.Size > 0 }

// IsClosed reports whether the trade has been settled.
func (t *Trade) IsClosed() bool { return t.closed }

// SL returns the stop-loss price, or zero.
func (t *Trade) SL() float64 {
	if t.slOrder == nil {
		return 0
	}
	return t.slOrder.Stop
}

// TP returns the take-profit price, or zero.
func (t *Trade) TP() float64 {
	if t.tpOrder == nil {
		return 0
	}
	return t.tpOrder.Limit
}

// price is the exit price of a settled trade, else the last close.
func (t *Trade) price() float64 {
	if t.closed {
		return t.ExitPrice
	}
	return t.sim.LastPrice()
}

// PL returns the profit or loss in cash. Commissions are included once the
// trade is closed.
func (t *Trade) PL() float64 {
	return t.Size*(t.price()-t.EntryPrice) - t.Commission
}

// ReturnPct returns the trade's return as a fraction, net of commissions.
func (t *Trade) ReturnPct() float64 {
	gross := math.Copysign(1, t.Size) * (t.price()/t.EntryPrice - 1)
	return gross - t.Commission/(math.Abs(t.Size)*t.EntryPrice)
}

// Value returns the trade's current market value.
func (t *Trade) Value() float64 {
	return math.Abs(t.Size) * t.price()
}

// Duration returns how long the trade was held.
func (t *Trade) Duration() time.Duration {
	if !t.closed {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// Close places a market order closing portion (0, 1] of the trade.
func (t *Trade) Close(portion float64) {
	if t.closed || portion <= 0 {
		return
	}
	units := math.Abs(t.Size)
	if portion < 1 {
		units = math.Max(1, math.Round(units*portion))
	}
	t.sim.enqueueFront(&Order{Size: -math.Copysign(units, t.Size), parent: t})
}

// SetSL replaces the trade's stop-loss. Zero removes it.
func (t *Trade) SetSL(price float64) {
	if t.slOrder != nil {
		t.slOrder.Cancel()
	}
	if price > 0 && !t.closed {
		o := &Order{Size: -t.Size, Stop: price, parent: t}
		t.slOrder = o
		t.sim.enqueueFront(o)
	}
}

// SetTP replaces the trade's take-profit. Zero removes it.
func (t *Trade) SetTP(price float64) {
	if t.tpOrder != nil {
		t.tpOrder.Cancel()
	}
	if price > 0 && !t.closed {
		o := &Order{Size: -t.Size, Limit: price, parent: t}
		t.tpOrder = o
		t.sim.enqueueFront(o)
	}
}
