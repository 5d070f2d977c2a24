// Package indicator computes technical indicators over float columns.
//
// Every function returns a slice of the same length as its input. Values
// inside the warm-up window, where not enough history exists, are NaN.
// Moving averages, RSI, ATR smoothing and Bollinger bands are delegated to
// techan; rolling extrema and dispersion use gonum.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidWindow is returned for a window length below one.
	ErrInvalidWindow = errors.New("window must be positive")

	// ErrLengthMismatch is returned when aligned input columns differ in length.
	ErrLengthMismatch = errors.New("input columns differ in length")
)

// column adapts a float slice to techan.Indicator.
type column []float64

func (c column) Calculate(i int) big.Decimal { return big.NewDecimal(c[i]) }

// Compile-time interface check.
var _ techan.Indicator = column(nil)

// NaNs returns a slice of n NaN values.
func NaNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Const returns a slice of n copies of v.
func Const(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// evaluate calculates ind for every index from warmup onwards. Earlier
// indices are left as NaN.
func evaluate(ind techan.Indicator, n, warmup int) []float64 {
	out := NaNs(n)
	for i := warmup; i < n; i++ {
		out[i] = ind.Calculate(i).Float()
	}
	return out
}

func checkWindow(window int) error {
	if window <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}
	return nil
}

func checkAligned(cols ...[]float64) error {
	for _, c := range cols[1:] {
		if len(c) != len(cols[0]) {
			return ErrLengthMismatch
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Moving averages
// ---------------------------------------------------------------------------

// SMA returns the simple moving average of x over window bars.
func SMA(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	if len(x) < window {
		return NaNs(len(x)), nil
	}
	return evaluate(techan.NewSimpleMovingAverage(column(x), window), len(x), window-1), nil
}

// LocalSMA is the rolling mean computed directly over each window rather
// than through the indicator library. It matches SMA up to rounding.
func LocalSMA(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	return rolling(x, window, func(w []float64) float64 { return stat.Mean(w, nil) }), nil
}

// EMA returns the exponential moving average of x, seeded with the SMA of
// the first window values.
func EMA(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	if len(x) < window {
		return NaNs(len(x)), nil
	}
	return evaluate(techan.NewEMAIndicator(column(x), window), len(x), window-1), nil
}

// DEMA returns the double exponential moving average 2*EMA - EMA(EMA).
func DEMA(x []float64, window int) ([]float64, error) {
	ema1, err := EMA(x, window)
	if err != nil {
		return nil, err
	}
	out := NaNs(len(x))
	first := window - 1
	if len(x) <= first {
		return out, nil
	}
	ema2, err := EMA(ema1[first:], window)
	if err != nil {
		return nil, err
	}
	for i, v := range ema2 {
		if !math.IsNaN(v) {
			out[first+i] = 2*ema1[first+i] - v
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Oscillators and volatility
// ---------------------------------------------------------------------------

// RSI returns the relative strength index of x with Wilder smoothing. The
// averages are seeded with the mean gain and loss of the first window price
// changes, so the first window values are NaN. A window without losses reads
// 100.
func RSI(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	n := len(x)
	out := NaNs(n)
	if n <= window {
		return out, nil
	}
	// gains[k] and losses[k] hold the change from x[k] to x[k+1].
	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		if d := x[i] - x[i-1]; d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	avgGain := techan.NewMMAIndicator(column(gains), window)
	avgLoss := techan.NewMMAIndicator(column(losses), window)
	for i := window; i < n; i++ {
		g := avgGain.Calculate(i - 1).Float()
		l := avgLoss.Calculate(i - 1).Float()
		if l == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+g/l)
	}
	return out, nil
}

// TrueRange returns max(high, prevClose) - min(low, prevClose). The first
// value has no previous close and is NaN.
func TrueRange(high, low, close []float64) ([]float64, error) {
	if err := checkAligned(high, low, close); err != nil {
		return nil, err
	}
	out := NaNs(len(close))
	for i := 1; i < len(close); i++ {
		out[i] = math.Max(high[i], close[i-1]) - math.Min(low[i], close[i-1])
	}
	return out, nil
}

// ATR returns the average true range over window bars with Wilder smoothing.
// The first window values are NaN.
func ATR(high, low, close []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	if len(tr) <= window {
		return NaNs(len(tr)), nil
	}
	// The smoothing seed cannot see NaN, so the first bar uses its own range.
	tr[0] = high[0] - low[0]
	return evaluate(techan.NewMMAIndicator(column(tr), window), len(tr), window), nil
}

// StdDev returns the rolling population standard deviation of x.
func StdDev(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	return rolling(x, window, func(w []float64) float64 {
		return math.Sqrt(stat.PopVariance(w, nil))
	}), nil
}

// Bands holds a Bollinger band triple plus its derived series.
type Bands struct {
	Lower     []float64
	Mid       []float64
	Upper     []float64
	Bandwidth []float64 // 100 * (upper - lower) / mid
	Percent   []float64 // (x - lower) / (upper - lower)
}

// BBands returns Bollinger bands around the SMA of x at k standard
// deviations.
func BBands(x []float64, window int, k float64) (*Bands, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	n := len(x)
	b := &Bands{
		Lower:     NaNs(n),
		Mid:       NaNs(n),
		Upper:     NaNs(n),
		Bandwidth: NaNs(n),
		Percent:   NaNs(n),
	}
	if n < window {
		return b, nil
	}

	src := column(x)
	b.Mid = evaluate(techan.NewSimpleMovingAverage(src, window), n, window-1)
	b.Upper = evaluate(techan.NewBollingerUpperBandIndicator(src, window, k), n, window-1)
	b.Lower = evaluate(techan.NewBollingerLowerBandIndicator(src, window, k), n, window-1)
	for i := window - 1; i < n; i++ {
		width := b.Upper[i] - b.Lower[i]
		if b.Mid[i] != 0 {
			b.Bandwidth[i] = 100 * width / b.Mid[i]
		}
		if width != 0 {
			b.Percent[i] = (x[i] - b.Lower[i]) / width
		}
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Rolling extrema
// ---------------------------------------------------------------------------

// Highest returns the rolling maximum of x over window bars, current bar
// included.
func Highest(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	return rolling(x, window, floats.Max), nil
}

// Lowest returns the rolling minimum of x over window bars, current bar
// included.
func Lowest(x []float64, window int) ([]float64, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	return rolling(x, window, floats.Min), nil
}

func rolling(x []float64, window int, reduce func([]float64) float64) []float64 {
	out := NaNs(len(x))
	for i := window - 1; i < len(x); i++ {
		out[i] = reduce(x[i-window+1 : i+1])
	}
	return out
}

// ---------------------------------------------------------------------------
// Crosses
// ---------------------------------------------------------------------------

// Crossover reports whether a crossed above b at index i: a was below b on
// the previous bar and is above it now. NaN on either side is never a cross.
func Crossover(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	return a[i-1] < b[i-1] && a[i] > b[i]
}
