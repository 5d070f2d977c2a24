// Package stats turns a backtest's equity curve and settled trades into the
// performance record used for comparison and ranking.
package stats

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stratbench/internal/domain"
)

// ErrUnknownMetric is returned by Lookup and Format for names that are not
// part of the record.
var ErrUnknownMetric = errors.New("unknown metric")

// Trade is a settled trade as the statistics see it.
type Trade struct {
	Size       float64   `json:"size"`
	EntryBar   int       `json:"entry_bar"`
	ExitBar    int       `json:"exit_bar"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	PL         float64   `json:"pl"`
	ReturnPct  float64   `json:"return_pct"` // fraction, net of commission
	Commission float64   `json:"commission"`
	ExitReason string    `json:"exit_reason"`
	Tag        string    `json:"tag,omitempty"`
}

// Duration returns how long the trade was held.
func (t Trade) Duration() time.Duration { return t.ExitTime.Sub(t.EntryTime) }

// Input is everything Compute needs from a finished run.
type Input struct {
	Frame        domain.Frame
	Equity       []float64 // one value per bar
	Trades       []Trade
	Commissions  float64
	RiskFreeRate float64 // annual, as a fraction
}

// Stats is the performance record of one run. Percentages are in percent
// (12.5 means 12.5%); drawdowns are negative.
type Stats struct {
	Strategy string             `json:"strategy"`
	Params   map[string]float64 `json:"params,omitempty"`

	Start               time.Time     `json:"start"`
	End                 time.Time     `json:"end"`
	Duration            time.Duration `json:"duration"`
	ExposureTime        float64       `json:"exposure_time"`
	EquityFinal         float64       `json:"equity_final"`
	EquityPeak          float64       `json:"equity_peak"`
	Commissions         float64       `json:"commissions"`
	Return              float64       `json:"return"`
	BuyHoldReturn       float64       `json:"buy_hold_return"`
	ReturnAnn           float64       `json:"return_ann"`
	VolatilityAnn       float64       `json:"volatility_ann"`
	CAGR                float64       `json:"cagr"`
	Sharpe              float64       `json:"sharpe"`
	Sortino             float64       `json:"sortino"`
	Calmar              float64       `json:"calmar"`
	MaxDrawdown         float64       `json:"max_drawdown"`
	AvgDrawdown         float64       `json:"avg_drawdown"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	AvgDrawdownDuration time.Duration `json:"avg_drawdown_duration"`
	NumTrades           int           `json:"num_trades"`
	WinRate             float64       `json:"win_rate"`
	BestTrade           float64       `json:"best_trade"`
	WorstTrade          float64       `json:"worst_trade"`
	AvgTrade            float64       `json:"avg_trade"`
	MaxTradeDuration    time.Duration `json:"max_trade_duration"`
	AvgTradeDuration    time.Duration `json:"avg_trade_duration"`
	ProfitFactor        float64       `json:"profit_factor"`
	Expectancy          float64       `json:"expectancy"`
	SQN                 float64       `json:"sqn"`
	Kelly               float64       `json:"kelly"`

	EquityCurve []float64 `json:"-"`
	Drawdown    []float64 `json:"-"`
	Trades      []Trade   `json:"-"`
}

// Compute derives the performance record. Durations that cannot be
// measured, e.g. a drawdown when equity never fell, are left at zero and
// ratios without a defined denominator are NaN.
func Compute(in Input) *Stats {
	times := in.Frame.Times()
	closes := in.Frame.Closes()
	eq := in.Equity
	n := len(eq)

	s := &Stats{
		EquityCurve: eq,
		Trades:      in.Trades,
		Commissions: in.Commissions,
		NumTrades:   len(in.Trades),
	}
	if n == 0 || len(times) != n {
		return s
	}

	s.Start, s.End = times[0], times[n-1]
	s.Duration = s.End.Sub(s.Start)

	// Exposure: bars with at least one trade open.
	held := make([]bool, n)
	for _, t := range in.Trades {
		for i := max(t.EntryBar, 0); i <= t.ExitBar && i < n; i++ {
			held[i] = true
		}
	}
	exposed := 0
	for _, h := range held {
		if h {
			exposed++
		}
	}
	s.ExposureTime = float64(exposed) / float64(n) * 100

	s.EquityFinal = eq[n-1]
	s.EquityPeak = floats.Max(eq)
	s.Return = (eq[n-1] - eq[0]) / eq[0] * 100
	s.BuyHoldReturn = (closes[n-1] - closes[0]) / closes[0] * 100

	// Annualised figures.
	periods := annualPeriods(times)
	returns := periodReturns(times, eq)
	g := geometricMean(returns)
	annRet := math.Pow(1+g, periods) - 1
	s.ReturnAnn = annRet * 100
	variance := math.NaN()
	if len(returns) > 1 {
		variance = stat.Variance(returns[1:], nil)
	}
	s.VolatilityAnn = math.Sqrt(math.Pow(variance+math.Pow(1+g, 2), periods)-math.Pow(1+g, 2*periods)) * 100

	if years := s.Duration.Hours() / 24 / daysPerYear; years > 0 && eq[0] > 0 {
		s.CAGR = (math.Pow(eq[n-1]/eq[0], 1/years) - 1) * 100
	} else {
		s.CAGR = math.NaN()
	}

	s.Sharpe = safeDiv(s.ReturnAnn-in.RiskFreeRate*100, s.VolatilityAnn)
	downside := math.NaN()
	if len(returns) > 1 {
		sq := make([]float64, len(returns)-1)
		for i, r := range returns[1:] {
			r = math.Min(r, 0)
			sq[i] = r * r
		}
		downside = math.Sqrt(stat.Mean(sq, nil)) * math.Sqrt(periods)
	}
	s.Sortino = safeDiv(annRet-in.RiskFreeRate, downside)

	// Drawdowns.
	dd := drawdown(eq)
	s.Drawdown = dd
	maxDD := floats.Max(dd)
	s.MaxDrawdown = -maxDD * 100
	s.Calmar = safeDiv(annRet, maxDD)
	periodsDD := drawdownPeriods(times, dd)
	if len(periodsDD) > 0 {
		var peaks []float64
		var longest, total time.Duration
		for _, p := range periodsDD {
			peaks = append(peaks, p.peak)
			longest = max(longest, p.duration)
			total += p.duration
		}
		s.AvgDrawdown = -stat.Mean(peaks, nil) * 100
		s.MaxDrawdownDuration = longest
		s.AvgDrawdownDuration = total / time.Duration(len(periodsDD))
	} else {
		s.AvgDrawdown = math.NaN()
	}

	s.tradeStats()
	return s
}

func (s *Stats) tradeStats() {
	n := len(s.Trades)
	if n == 0 {
		for _, p := range []*float64{&s.WinRate, &s.BestTrade, &s.WorstTrade, &s.AvgTrade,
			&s.ProfitFactor, &s.Expectancy, &s.SQN, &s.Kelly} {
			*p = math.NaN()
		}
		return
	}

	pl := make([]float64, n)
	rets := make([]float64, n)
	var gain, loss, winPL, lossPL float64
	var nWin, nLoss int
	var longest, total time.Duration
	for i, t := range s.Trades {
		pl[i] = t.PL
		rets[i] = t.ReturnPct
		if t.PL > 0 {
			winPL += t.PL
			nWin++
		} else if t.PL < 0 {
			lossPL += -t.PL
			nLoss++
		}
		if t.ReturnPct > 0 {
			gain += t.ReturnPct
		} else if t.ReturnPct < 0 {
			loss += -t.ReturnPct
		}
		d := t.Duration()
		longest = max(longest, d)
		total += d
	}

	winRate := float64(nWin) / float64(n)
	s.WinRate = winRate * 100
	s.BestTrade = floats.Max(rets) * 100
	s.WorstTrade = floats.Min(rets) * 100
	s.AvgTrade = geometricMean(rets) * 100
	s.MaxTradeDuration = longest
	s.AvgTradeDuration = total / time.Duration(n)
	s.ProfitFactor = safeDiv(gain, loss)
	s.Expectancy = stat.Mean(rets, nil) * 100

	sd := math.NaN()
	if n > 1 {
		sd = stat.StdDev(pl, nil)
	}
	s.SQN = math.Sqrt(float64(n)) * safeDiv(stat.Mean(pl, nil), sd)

	avgWin, avgLoss := math.NaN(), math.NaN()
	if nWin > 0 {
		avgWin = winPL / float64(nWin)
	}
	if nLoss > 0 {
		avgLoss = lossPL / float64(nLoss)
	}
	s.Kelly = winRate - (1-winRate)/(avgWin/avgLoss)
}

// safeDiv returns a/b, or NaN when b is zero or NaN.
func safeDiv(a, b float64) float64 {
	if b == 0 || math.IsNaN(b) {
		return math.NaN()
	}
	return a / b
}
