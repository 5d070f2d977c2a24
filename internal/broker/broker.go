// Package broker defines the Broker interface strategies trade through and
// provides a Simulator that fills orders against historical bars.
package broker

import (
	"errors"
)

var (
	// ErrInvalidOrder is returned when an order's size or prices are
	// inconsistent, e.g. a long stop-loss above the entry price.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidConfig is returned for unusable simulator settings.
	ErrInvalidConfig = errors.New("invalid broker config")
)

// Broker abstracts order placement and account inspection.
type Broker interface {
	// Name returns the broker identifier.
	Name() string

	// SubmitOrder queues a new order. It is matched against the next bar,
	// or the current close when trading on close.
	SubmitOrder(req OrderRequest) (*Order, error)

	// Orders returns the pending orders, contingent SL/TP orders included.
	Orders() []*Order

	// Trades returns the open trades, oldest first.
	Trades() []*Trade

	// ClosedTrades returns every settled trade, in order of closing.
	ClosedTrades() []*Trade

	// Position aggregates the open trades.
	Position() Position

	// Account returns a snapshot of the account's cash and equity.
	Account() Account
}

// OrderRequest describes an order to place. Zero prices mean "not set".
//
// Size is signed: positive buys, negative sells. A magnitude below one is a
// fraction of available margin; one or more is a whole number of units.
type OrderRequest struct {
	Size  float64
	Limit float64
	Stop  float64
	SL    float64
	TP    float64
	Tag   string
}

// Account is a snapshot of the simulated account.
type Account struct {
	Cash            float64
	Equity          float64
	MarginAvailable float64
}

// Position summarises all open trades.
type Position struct {
	Size  float64 // net units, negative when short
	PL    float64 // unrealised profit or loss in cash
	PLPct float64 // size-weighted return of the open trades, in percent
}

// IsLong reports a net long position.
func (p Position) IsLong() bool { return p.Size > 0 }

// IsShort reports a net short position.
func (p Position) IsShort() bool { return p.Size < 0 }

// Flat reports no open position.
func (p Position) Flat() bool { return p.Size == 0 }

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "signal"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitReversal   ExitReason = "reversal"
	ExitEndOfData  ExitReason = "end_of_data"
	ExitMarginCall ExitReason = "margin_call"
)
