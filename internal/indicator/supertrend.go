package indicator

import "math"

// Trend is the output of Supertrend.
type Trend struct {
	Line      []float64 // active band: lower band in an uptrend, upper band in a downtrend
	Direction []float64 // 1 for uptrend, -1 for downtrend
	Long      []float64 // Line while in an uptrend, NaN otherwise
	Short     []float64 // Line while in a downtrend, NaN otherwise
}

// Supertrend computes the ATR trailing-band trend follower. Bands sit mult
// ATRs around the bar midpoint and only ratchet in the trend's favour until
// the close breaks through the opposite band.
func Supertrend(high, low, close []float64, window int, mult float64) (*Trend, error) {
	atr, err := ATR(high, low, close, window)
	if err != nil {
		return nil, err
	}
	n := len(close)
	t := &Trend{
		Line:      NaNs(n),
		Direction: NaNs(n),
		Long:      NaNs(n),
		Short:     NaNs(n),
	}
	if n <= window {
		return t, nil
	}

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := window; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		upper[i] = mid + mult*atr[i]
		lower[i] = mid - mult*atr[i]
	}

	dir := 1.0
	t.Direction[window] = dir
	t.Line[window] = lower[window]
	t.Long[window] = lower[window]
	for i := window + 1; i < n; i++ {
		switch {
		case close[i] > upper[i-1]:
			dir = 1
		case close[i] < lower[i-1]:
			dir = -1
		default:
			if dir > 0 && lower[i] < lower[i-1] {
				lower[i] = lower[i-1]
			}
			if dir < 0 && upper[i] > upper[i-1] {
				upper[i] = upper[i-1]
			}
		}
		t.Direction[i] = dir
		if dir > 0 {
			t.Line[i] = lower[i]
			t.Long[i] = lower[i]
		} else {
			t.Line[i] = upper[i]
			t.Short[i] = upper[i]
		}
	}
	return t, nil
}

// FirstValid returns the index of the first non-NaN value, or len(x) when
// every value is NaN.
func FirstValid(x []float64) int {
	for i, v := range x {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(x)
}
