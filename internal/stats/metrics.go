package stats

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Metric names, as shown in reports.
const (
	MetricStart               = "Start"
	MetricEnd                 = "End"
	MetricDuration            = "Duration"
	MetricExposureTime        = "Exposure Time [%]"
	MetricEquityFinal         = "Equity Final [$]"
	MetricEquityPeak          = "Equity Peak [$]"
	MetricCommissions         = "Commissions [$]"
	MetricReturn              = "Return [%]"
	MetricBuyHoldReturn       = "Buy & Hold Return [%]"
	MetricReturnAnn           = "Return (Ann.) [%]"
	MetricVolatilityAnn       = "Volatility (Ann.) [%]"
	MetricCAGR                = "CAGR [%]"
	MetricSharpe              = "Sharpe Ratio"
	MetricSortino             = "Sortino Ratio"
	MetricCalmar              = "Calmar Ratio"
	MetricMaxDrawdown         = "Max. Drawdown [%]"
	MetricAvgDrawdown         = "Avg. Drawdown [%]"
	MetricMaxDrawdownDuration = "Max. Drawdown Duration"
	MetricAvgDrawdownDuration = "Avg. Drawdown Duration"
	MetricTrades              = "# Trades"
	MetricWinRate             = "Win Rate [%]"
	MetricBestTrade           = "Best Trade [%]"
	MetricWorstTrade          = "Worst Trade [%]"
	MetricAvgTrade            = "Avg. Trade [%]"
	MetricMaxTradeDuration    = "Max. Trade Duration"
	MetricAvgTradeDuration    = "Avg. Trade Duration"
	MetricProfitFactor        = "Profit Factor"
	MetricExpectancy          = "Expectancy [%]"
	MetricSQN                 = "SQN"
	MetricKelly               = "Kelly Criterion"
)

type kind int

const (
	kindNumber kind = iota
	kindTime
	kindDuration
	kindCount
)

type metric struct {
	name string
	kind kind
	get  func(*Stats) float64
}

func days(d time.Duration) float64 { return d.Hours() / 24 }

func unix(t time.Time) float64 { return float64(t.Unix()) }

var metrics = []metric{
	{MetricStart, kindTime, func(s *Stats) float64 { return unix(s.Start) }},
	{MetricEnd, kindTime, func(s *Stats) float64 { return unix(s.End) }},
	{MetricDuration, kindDuration, func(s *Stats) float64 { return days(s.Duration) }},
	{MetricExposureTime, kindNumber, func(s *Stats) float64 { return s.ExposureTime }},
	{MetricEquityFinal, kindNumber, func(s *Stats) float64 { return s.EquityFinal }},
	{MetricEquityPeak, kindNumber, func(s *Stats) float64 { return s.EquityPeak }},
	{MetricCommissions, kindNumber, func(s *Stats) float64 { return s.Commissions }},
	{MetricReturn, kindNumber, func(s *Stats) float64 { return s.Return }},
	{MetricBuyHoldReturn, kindNumber, func(s *Stats) float64 { return s.BuyHoldReturn }},
	{MetricReturnAnn, kindNumber, func(s *Stats) float64 { return s.ReturnAnn }},
	{MetricVolatilityAnn, kindNumber, func(s *Stats) float64 { return s.VolatilityAnn }},
	{MetricCAGR, kindNumber, func(s *Stats) float64 { return s.CAGR }},
	{MetricSharpe, kindNumber, func(s *Stats) float64 { return s.Sharpe }},
	{MetricSortino, kindNumber, func(s *Stats) float64 { return s.Sortino }},
	{MetricCalmar, kindNumber, func(s *Stats) float64 { return s.Calmar }},
	{MetricMaxDrawdown, kindNumber, func(s *Stats) float64 { return s.MaxDrawdown }},
	{MetricAvgDrawdown, kindNumber, func(s *Stats) float64 { return s.AvgDrawdown }},
	{MetricMaxDrawdownDuration, kindDuration, func(s *Stats) float64 { return days(s.MaxDrawdownDuration) }},
	{MetricAvgDrawdownDuration, kindDuration, func(s *Stats) float64 { return days(s.AvgDrawdownDuration) }},
	{MetricTrades, kindCount, func(s *Stats) float64 { return float64(s.NumTrades) }},
	{MetricWinRate, kindNumber, func(s *Stats) float64 { return s.WinRate }},
	{MetricBestTrade, kindNumber, func(s *Stats) float64 { return s.BestTrade }},
	{MetricWorstTrade, kindNumber, func(s *Stats) float64 { return s.WorstTrade }},
	{MetricAvgTrade, kindNumber, func(s *Stats) float64 { return s.AvgTrade }},
	{MetricMaxTradeDuration, kindDuration, func(s *Stats) float64 { return days(s.MaxTradeDuration) }},
	{MetricAvgTradeDuration, kindDuration, func(s *Stats) float64 { return days(s.AvgTradeDuration) }},
	{MetricProfitFactor, kindNumber, func(s *Stats) float64 { return s.ProfitFactor }},
	{MetricExpectancy, kindNumber, func(s *Stats) float64 { return s.Expectancy }},
	{MetricSQN, kindNumber, func(s *Stats) float64 { return s.SQN }},
	{MetricKelly, kindNumber, func(s *Stats) float64 { return s.Kelly }},
}

var metricIndex = func() map[string]int {
	m := make(map[string]int, len(metrics))
	for i, mt := range metrics {
		m[mt.name] = i
	}
	return m
}()

// Names returns every metric name in report order.
func Names() []string {
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = m.name
	}
	return out
}

// IsMetric reports whether name is a known metric.
func IsMetric(name string) bool {
	_, ok := metricIndex[name]
	return ok
}

// Validate returns ErrUnknownMetric for the first unknown name.
func Validate(names []string) error {
	for _, n := range names {
		if !IsMetric(n) {
			return fmt.Errorf("%w: %q", ErrUnknownMetric, n)
		}
	}
	return nil
}

func lookup(name string) (metric, error) {
	i, ok := metricIndex[name]
	if !ok {
		return metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return metrics[i], nil
}

// Lookup returns the numeric value of a metric. Durations are in days and
// timestamps in Unix seconds.
func (s *Stats) Lookup(name string) (float64, error) {
	m, err := lookup(name)
	if err != nil {
		return 0, err
	}
	return m.get(s), nil
}

// Format returns the metric as display text.
func (s *Stats) Format(name string) (string, error) {
	m, err := lookup(name)
	if err != nil {
		return "", err
	}
	switch m.kind {
	case kindTime:
		t := s.Start
		if name == MetricEnd {
			t = s.End
		}
		return t.Format("2006-01-02 15:04:05"), nil
	case kindDuration:
		return FormatDuration(time.Duration(m.get(s) * float64(24*time.Hour))), nil
	case kindCount:
		return strconv.Itoa(s.NumTrades), nil
	}
	return FormatNumber(m.get(s), 2), nil
}

// Map returns every metric's numeric value keyed by name.
func (s *Stats) Map() map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		out[m.name] = m.get(s)
	}
	return out
}

// FormatNumber rounds v to places decimals. NaN and infinities are spelled
// out since decimal cannot represent them.
func FormatNumber(v float64, places int32) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return decimal.NewFromFloat(v).Round(places).StringFixed(places)
}

// FormatDuration renders d as "N days HH:MM:SS".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	neg := d < 0
	if neg {
		d = -d
	}
	n := d / (24 * time.Hour)
	d -= n * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	out := fmt.Sprintf("%d days %02d:%02d:%02d", n, h, m, sec)
	if neg {
		out = "-" + out
	}
	return out
}
