package indicator

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.1
	}
	return out
}

func assertWarmup(t *testing.T, x []float64, n int) {
	t.Helper()
	for i := 0; i < n && i < len(x); i++ {
		assert.Truef(t, math.IsNaN(x[i]), "index %d = %v, want NaN", i, x[i])
	}
	if n < len(x) {
		assert.Falsef(t, math.IsNaN(x[n]), "index %d is NaN after warm-up", n)
	}
}

func TestSMA(t *testing.T) {
	x := ramp(10, 1, 1)
	got, err := SMA(x, 3)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assertWarmup(t, got, 2)
	assert.InDelta(t, 2.0, got[2], 1e-9)
	assert.InDelta(t, 9.0, got[9], 1e-9)
}

func TestLocalSMAMatchesSMA(t *testing.T) {
	x := wave(120)
	lib, err := SMA(x, 20)
	require.NoError(t, err)
	local, err := LocalSMA(x, 20)
	require.NoError(t, err)
	for i := 19; i < len(x); i++ {
		assert.InDelta(t, lib[i], local[i], 1e-6, "index %d", i)
	}
}

func TestShortInputIsAllNaN(t *testing.T) {
	x := ramp(4, 1, 1)
	for name, fn := range map[string]func([]float64, int) ([]float64, error){
		"SMA": SMA, "EMA": EMA, "RSI": RSI, "Highest": Highest, "Lowest": Lowest, "DEMA": DEMA,
	} {
		got, err := fn(x, 10)
		require.NoError(t, err, name)
		require.Len(t, got, 4, name)
		for i, v := range got {
			assert.Truef(t, math.IsNaN(v), "%s[%d] = %v, want NaN", name, i, v)
		}
	}
}

func TestInvalidWindow(t *testing.T) {
	x := ramp(10, 1, 1)
	_, err := SMA(x, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = RSI(x, -1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = BBands(x, 0, 2)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestEMA(t *testing.T) {
	x := ramp(30, 10, 1)
	got, err := EMA(x, 5)
	require.NoError(t, err)
	assertWarmup(t, got, 4)
	// Seeded with the SMA of the first window.
	assert.InDelta(t, 12.0, got[4], 1e-9)
	for i := 5; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
		assert.Less(t, got[i], x[i])
	}

	flat, err := EMA(Const(7, 20), 5)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, flat[19], 1e-9)
}

func TestDEMA(t *testing.T) {
	x := ramp(40, 10, 1)
	got, err := DEMA(x, 5)
	require.NoError(t, err)
	require.Len(t, got, 40)
	assertWarmup(t, got, 8)

	ema, err := EMA(x, 5)
	require.NoError(t, err)
	// On a straight line DEMA tracks price more closely than EMA.
	assert.Less(t, math.Abs(x[39]-got[39]), math.Abs(x[39]-ema[39]))
}

func TestRSI(t *testing.T) {
	up, err := RSI(ramp(40, 1, 1), 14)
	require.NoError(t, err)
	assertWarmup(t, up, 14)
	assert.InDelta(t, 100.0, up[39], 1e-6)

	down, err := RSI(ramp(40, 100, -1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, down[39], 1e-6)

	mixed, err := RSI(wave(200), 14)
	require.NoError(t, err)
	for i := 14; i < len(mixed); i++ {
		assert.GreaterOrEqual(t, mixed[i], 0.0)
		assert.LessOrEqual(t, mixed[i], 100.0)
	}
}

func TestTrueRangeAndATR(t *testing.T) {
	n := 30
	closes := Const(50, n)
	highs := Const(51, n)
	lows := Const(49, n)

	tr, err := TrueRange(highs, lows, closes)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(tr[0]))
	assert.InDelta(t, 2.0, tr[1], 1e-9)

	atr, err := ATR(highs, lows, closes, 14)
	require.NoError(t, err)
	assertWarmup(t, atr, 14)
	assert.InDelta(t, 2.0, atr[29], 1e-9)

	// Gap up: true range reaches back to the previous close.
	tr, err = TrueRange([]float64{10, 20}, []float64{9, 19}, []float64{9.5, 19.5})
	require.NoError(t, err)
	assert.InDelta(t, 10.5, tr[1], 1e-9)

	_, err = ATR(highs, lows[:10], closes, 14)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestBBands(t *testing.T) {
	x := wave(100)
	b, err := BBands(x, 20, 2)
	require.NoError(t, err)
	assertWarmup(t, b.Mid, 19)

	sma, err := SMA(x, 20)
	require.NoError(t, err)
	for i := 19; i < len(x); i++ {
		assert.InDelta(t, sma[i], b.Mid[i], 1e-6)
		assert.InDelta(t, b.Upper[i]-b.Mid[i], b.Mid[i]-b.Lower[i], 1e-6)
		assert.Greater(t, b.Upper[i], b.Lower[i])
	}

	flat, err := BBands(Const(5, 30), 10, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, flat.Upper[29], 1e-9)
	assert.InDelta(t, 5.0, flat.Lower[29], 1e-9)
	assert.InDelta(t, 0.0, flat.Bandwidth[29], 1e-9)
}

func TestStdDev(t *testing.T) {
	got, err := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got[7], 1e-9)
}

func TestHighestLowest(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	hi, err := Highest(x, 3)
	require.NoError(t, err)
	lo, err := Lowest(x, 3)
	require.NoError(t, err)

	assertWarmup(t, hi, 2)
	wantHi := []float64{4, 4, 5, 9, 9, 9}
	wantLo := []float64{1, 1, 1, 1, 2, 2}
	for i := range wantHi {
		assert.Equal(t, wantHi[i], hi[i+2], "Highest[%d]", i+2)
		assert.Equal(t, wantLo[i], lo[i+2], "Lowest[%d]", i+2)
	}
}

func TestSupertrend(t *testing.T) {
	n := 80
	closes := ramp(n, 100, 1)
	highs := ramp(n, 101, 1)
	lows := ramp(n, 99, 1)

	up, err := Supertrend(highs, lows, closes, 10, 3)
	require.NoError(t, err)
	assertWarmup(t, up.Direction, 10)
	assert.Equal(t, 1.0, up.Direction[n-1])
	assert.Less(t, up.Line[n-1], closes[n-1])
	assert.True(t, math.IsNaN(up.Short[n-1]))

	closes = ramp(n, 200, -1)
	highs = ramp(n, 201, -1)
	lows = ramp(n, 199, -1)
	down, err := Supertrend(highs, lows, closes, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, -1.0, down.Direction[n-1])
	assert.Greater(t, down.Line[n-1], closes[n-1])
}

func TestCrossover(t *testing.T) {
	a := []float64{1, 2, 3, 1}
	b := []float64{2, 2, 2, 2}
	assert.False(t, Crossover(a, b, 0))
	assert.False(t, Crossover(a, b, 1), "touching is not a cross")
	assert.False(t, Crossover(a, b, 2), "previous bar was equal")
	assert.True(t, Crossover([]float64{1, 3}, b, 1))
	assert.True(t, Crossover(b, a, 3))
	assert.False(t, Crossover([]float64{math.NaN(), 3}, b, 1))
}

func TestFirstValid(t *testing.T) {
	assert.Equal(t, 2, FirstValid([]float64{math.NaN(), math.NaN(), 1}))
	assert.Equal(t, 2, FirstValid(NaNs(2)))
}

// ---------------------------------------------------------------------------
// Reference values
// ---------------------------------------------------------------------------

// walk is a seeded random walk with bars around it.
func walk(n int) (high, low, close []float64) {
	rng := rand.New(rand.NewPCG(7, 11))
	high, low, close = make([]float64, n), make([]float64, n), make([]float64, n)
	c := 100.0
	for i := range close {
		c += rng.NormFloat64()
		close[i] = c
		high[i] = c + rng.Float64()*2
		low[i] = c - rng.Float64()*2
	}
	return high, low, close
}

func mean(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func refEMA(x []float64, w int) []float64 {
	out := NaNs(len(x))
	if len(x) < w {
		return out
	}
	alpha := 2 / float64(w+1)
	out[w-1] = mean(x[:w])
	for i := w; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// refRSI is Wilder's RSI: seed averages are the mean gain and loss of the
// first w changes, then avg = (avg*(w-1) + cur) / w.
func refRSI(x []float64, w int) []float64 {
	out := NaNs(len(x))
	var g, l float64
	for i := 1; i <= w; i++ {
		d := x[i] - x[i-1]
		g += math.Max(d, 0)
		l += math.Max(-d, 0)
	}
	g /= float64(w)
	l /= float64(w)
	for i := w; i < len(x); i++ {
		if i > w {
			d := x[i] - x[i-1]
			g = (g*float64(w-1) + math.Max(d, 0)) / float64(w)
			l = (l*float64(w-1) + math.Max(-d, 0)) / float64(w)
		}
		out[i] = 100 - 100/(1+g/l)
	}
	return out
}

// refATR seeds with the mean of the first w true ranges, the first being
// high - low, then applies Wilder smoothing.
func refATR(h, l, c []float64, w int) []float64 {
	tr := make([]float64, len(c))
	tr[0] = h[0] - l[0]
	for i := 1; i < len(c); i++ {
		tr[i] = math.Max(h[i]-l[i], math.Max(math.Abs(h[i]-c[i-1]), math.Abs(l[i]-c[i-1])))
	}
	out := NaNs(len(c))
	atr := mean(tr[:w])
	for i := w; i < len(c); i++ {
		atr += (tr[i] - atr) / float64(w)
		out[i] = atr
	}
	return out
}

func assertSeries(t *testing.T, name string, want, got []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want), name)
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.Truef(t, math.IsNaN(got[i]), "%s[%d] = %v, want NaN", name, i, got[i])
			continue
		}
		assert.InDeltaf(t, want[i], got[i], tol, "%s[%d]", name, i)
	}
}

func TestRSIWilderSeed(t *testing.T) {
	// Changes +1 -1 +1 +1: seed averages 0.5/0.5, then 0.75/0.25 and
	// 0.875/0.125.
	got, err := RSI([]float64{1, 2, 1, 2, 3}, 2)
	require.NoError(t, err)
	assertSeries(t, "RSI", []float64{math.NaN(), math.NaN(), 50, 75, 87.5}, got, 1e-9)
}

func TestRSIMatchesReference(t *testing.T) {
	_, _, c := walk(200)
	got, err := RSI(c, 14)
	require.NoError(t, err)
	assertSeries(t, "RSI", refRSI(c, 14), got, 1e-9)
}

func TestATRMatchesReference(t *testing.T) {
	h, l, c := walk(200)
	got, err := ATR(h, l, c, 14)
	require.NoError(t, err)
	assertSeries(t, "ATR", refATR(h, l, c, 14), got, 1e-9)
}

func TestEMAAndDEMAMatchReference(t *testing.T) {
	_, _, c := walk(120)
	const w = 10
	ema, err := EMA(c, w)
	require.NoError(t, err)
	want := refEMA(c, w)
	assertSeries(t, "EMA", want, ema, 1e-9)

	dema, err := DEMA(c, w)
	require.NoError(t, err)
	ema2 := refEMA(want[w-1:], w)
	wantDEMA := NaNs(len(c))
	for i := 2*w - 2; i < len(c); i++ {
		wantDEMA[i] = 2*want[i] - ema2[i-(w-1)]
	}
	assertSeries(t, "DEMA", wantDEMA, dema, 1e-9)
}

func TestBBandsMatchReference(t *testing.T) {
	_, _, c := walk(100)
	const w, k = 20, 2.0
	b, err := BBands(c, w, k)
	require.NoError(t, err)
	for i := w - 1; i < len(c); i++ {
		win := c[i-w+1 : i+1]
		mid := mean(win)
		var ss float64
		for _, v := range win {
			ss += (v - mid) * (v - mid)
		}
		sd := math.Sqrt(ss / w)
		upper, lower := mid+k*sd, mid-k*sd
		assert.InDelta(t, mid, b.Mid[i], 1e-9, "Mid[%d]", i)
		assert.InDelta(t, upper, b.Upper[i], 1e-9, "Upper[%d]", i)
		assert.InDelta(t, lower, b.Lower[i], 1e-9, "Lower[%d]", i)
		assert.InDelta(t, 100*(upper-lower)/mid, b.Bandwidth[i], 1e-9, "Bandwidth[%d]", i)
		assert.InDelta(t, (c[i]-lower)/(upper-lower), b.Percent[i], 1e-9, "Percent[%d]", i)
	}
	assertWarmup(t, b.Percent, w-1)
}

func TestBBandsPercent(t *testing.T) {
	b, err := BBands([]float64{1, 3, 4, 2}, 2, 2)
	require.NoError(t, err)
	// Window [1 3]: mid 2, population sd 1, bands 0 and 4.
	assert.InDelta(t, 0.75, b.Percent[1], 1e-9)
	// Window [3 4]: mid 3.5, sd 0.5, bands 2.5 and 4.5.
	assert.InDelta(t, 0.75, b.Percent[2], 1e-9)
	// Window [4 2]: mid 3, sd 1, bands 1 and 5.
	assert.InDelta(t, 0.25, b.Percent[3], 1e-9)
	assert.True(t, math.IsNaN(b.Percent[0]))

	flat, err := BBands(Const(5, 5), 3, 2)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(flat.Percent[4]), "zero-width bands leave Percent undefined")
}

func TestSupertrendFlipAndRatchet(t *testing.T) {
	// Steady climb with a true range of 2 on every bar, so ATR(5) is 2 and
	// the lower band sits at close - 2 until bar 30 collapses.
	var h, l, c []float64
	for i := 0; i < 30; i++ {
		v := 100 + float64(i)
		c, h, l = append(c, v), append(h, v+1), append(l, v-1)
	}
	c, h, l = append(c, 100, 99, 99), append(h, 101, 100, 104), append(l, 99, 98, 98)

	tr, err := Supertrend(h, l, c, 5, 1)
	require.NoError(t, err)
	assertWarmup(t, tr.Direction, 5)
	for i := 5; i < 30; i++ {
		assert.Equal(t, 1.0, tr.Direction[i], "Direction[%d]", i)
		assert.InDelta(t, c[i]-2, tr.Line[i], 1e-9, "Line[%d]", i)
		assert.InDelta(t, c[i]-2, tr.Long[i], 1e-9, "Long[%d]", i)
	}

	// Bar 30 closes at 100, below the previous lower band of 127. True
	// range 30 lifts ATR to 2 + 28/5 = 7.6.
	assert.Equal(t, -1.0, tr.Direction[30])
	assert.InDelta(t, 107.6, tr.Line[30], 1e-9)
	assert.InDelta(t, 107.6, tr.Short[30], 1e-9)
	assert.True(t, math.IsNaN(tr.Long[30]))

	// ATR 6.48 gives an upper band of 105.48 at bar 31.
	assert.InDelta(t, 105.48, tr.Line[31], 1e-9)
	// Bar 32 would raise the upper band to 101 + 6.384; in a downtrend it
	// holds at 105.48.
	assert.Equal(t, -1.0, tr.Direction[32])
	assert.InDelta(t, 105.48, tr.Line[32], 1e-9)
}
