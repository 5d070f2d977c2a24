package domain

import (
	"sort"
	"time"
)

// Frame is an ordered OHLC series for a single symbol.
type Frame struct {
	Symbol   string
	Interval Interval
	Bars     []Bar
}

// NewFrame sorts bars by timestamp and wraps them in a Frame.
func NewFrame(symbol string, interval Interval, bars []Bar) Frame {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return Frame{Symbol: symbol, Interval: interval, Bars: sorted}
}

// Len returns the number of bars.
func (f Frame) Len() int { return len(f.Bars) }

// Empty reports whether the frame has no bars.
func (f Frame) Empty() bool { return len(f.Bars) == 0 }

// Slice returns the frame restricted to bars [i, j).
func (f Frame) Slice(i, j int) Frame {
	return Frame{Symbol: f.Symbol, Interval: f.Interval, Bars: f.Bars[i:j]}
}

// Opens returns the open column.
func (f Frame) Opens() []float64 { return f.column(func(b Bar) float64 { return b.Open }) }

// Highs returns the high column.
func (f Frame) Highs() []float64 { return f.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low column.
func (f Frame) Lows() []float64 { return f.column(func(b Bar) float64 { return b.Low }) }

// Closes returns the close column.
func (f Frame) Closes() []float64 { return f.column(func(b Bar) float64 { return b.Close }) }

// Volumes returns the volume column as float64.
func (f Frame) Volumes() []float64 {
	return f.column(func(b Bar) float64 { return float64(b.Volume) })
}

// Times returns the timestamp column.
func (f Frame) Times() []time.Time {
	out := make([]time.Time, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = b.Timestamp
	}
	return out
}

// Start returns the first timestamp, or the zero time for an empty frame.
func (f Frame) Start() time.Time {
	if len(f.Bars) == 0 {
		return time.Time{}
	}
	return f.Bars[0].Timestamp
}

// End returns the last timestamp, or the zero time for an empty frame.
func (f Frame) End() time.Time {
	if len(f.Bars) == 0 {
		return time.Time{}
	}
	return f.Bars[len(f.Bars)-1].Timestamp
}

func (f Frame) column(get func(Bar) float64) []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = get(b)
	}
	return out
}
