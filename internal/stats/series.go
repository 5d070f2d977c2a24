package stats

import (
	"math"
	"sort"
	"time"
)

const (
	tradingDaysPerYear  = 252
	calendarDaysPerYear = 365
	daysPerYear         = 365.25
)

// annualPeriods returns how many resampled periods make a year. Daily and
// intraday data use trading days, or calendar days when weekend bars make
// up a noticeable share of the data.
func annualPeriods(times []time.Time) float64 {
	switch barDays(times) {
	case 7:
		return 52
	case 31:
		return 12
	case 365:
		return 1
	}
	weekend := 0
	for _, t := range times {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
	}
	if len(times) > 0 && float64(weekend)/float64(len(times)) > 2.0/7*0.6 {
		return calendarDaysPerYear
	}
	return tradingDaysPerYear
}

// barDays returns the typical bar spacing in whole days, using the median
// gap so that weekends and holidays do not skew it. Monthly and quarterly
// spacings are snapped to 31, yearly to 365.
func barDays(times []time.Time) int {
	if len(times) < 2 {
		return 0
	}
	gaps := make([]time.Duration, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps[i-1] = times[i].Sub(times[i-1])
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	days := int(gaps[len(gaps)/2].Hours() / 24)
	switch {
	case days >= 360:
		return 365
	case days >= 28 && days <= 31:
		return 31
	}
	return days
}

// periodKey buckets a timestamp into the calendar period used to resample
// equity for annualisation.
func periodKey(t time.Time, days int) string {
	switch days {
	case 7:
		// Weeks end on Sunday.
		end := t.AddDate(0, 0, (7-int(t.Weekday()))%7)
		return end.Format("2006-01-02")
	case 31:
		return t.Format("2006-01")
	case 365:
		return t.Format("2006")
	}
	return t.Format("2006-01-02")
}

// periodReturns resamples equity to the last value of each calendar period
// and returns the simple returns between periods. The first element is
// zero; it stands for the period with no predecessor.
func periodReturns(times []time.Time, equity []float64) []float64 {
	days := barDays(times)
	var last []float64
	var key string
	for i, t := range times {
		k := periodKey(t, days)
		if i == 0 || k != key {
			last = append(last, equity[i])
			key = k
			continue
		}
		last[len(last)-1] = equity[i]
	}
	if len(last) == 0 {
		return nil
	}
	out := make([]float64, len(last))
	for i := 1; i < len(last); i++ {
		if last[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = last[i]/last[i-1] - 1
	}
	return out
}

// geometricMean returns the per-period geometric mean of simple returns.
// NaN returns count as zero; any return at or below -100% gives zero.
func geometricMean(returns []float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	var sumLog float64
	for _, r := range returns {
		if math.IsNaN(r) {
			r = 0
		}
		if 1+r <= 0 {
			return 0
		}
		sumLog += math.Log1p(r)
	}
	return math.Exp(sumLog/float64(len(returns))) - 1
}

// drawdown returns, for every bar, the fraction equity sits below its
// running peak.
func drawdown(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, v := range equity {
		peak = math.Max(peak, v)
		if peak > 0 {
			out[i] = 1 - v/peak
		}
	}
	return out
}

type ddPeriod struct {
	duration time.Duration
	peak     float64
}

// drawdownPeriods splits the drawdown series at bars back at a peak. Each
// period runs from the last peak to the next recovery (or the final bar)
// and records its length and deepest drawdown.
func drawdownPeriods(times []time.Time, dd []float64) []ddPeriod {
	var marks []int
	for i, v := range dd {
		if v == 0 {
			marks = append(marks, i)
		}
	}
	if len(marks) == 0 || marks[len(marks)-1] != len(dd)-1 {
		marks = append(marks, len(dd)-1)
	}

	var out []ddPeriod
	for k := 1; k < len(marks); k++ {
		prev, cur := marks[k-1], marks[k]
		if cur <= prev+1 {
			continue
		}
		deepest := 0.0
		for i := prev; i <= cur; i++ {
			deepest = math.Max(deepest, dd[i])
		}
		out = append(out, ddPeriod{duration: times[cur].Sub(times[prev]), peak: deepest})
	}
	return out
}
