// Package metrics exposes Prometheus counters and histograms for backtests
// and market-data fetches.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratbench/internal/domain"
	"stratbench/internal/marketdata"
	"stratbench/internal/tester"
)

// Compile-time interface check.
var _ tester.Recorder = (*Recorder)(nil)

// Recorder records stratbench metrics into its own registry.
type Recorder struct {
	reg       *prometheus.Registry
	backtests *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fetches   *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		backtests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratbench_backtests_total",
				Help: "Total number of backtest runs",
			},
			[]string{"strategy", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stratbench_backtest_duration_seconds",
				Help:    "Duration of backtest runs in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"strategy"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratbench_data_fetches_total",
				Help: "Total number of market-data fetches",
			},
			[]string{"source", "outcome"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveBacktest counts a finished run and its duration.
func (r *Recorder) ObserveBacktest(strategy string, elapsed time.Duration, err error) {
	r.backtests.WithLabelValues(strategy, outcome(err)).Inc()
	r.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveFetch counts a market-data fetch.
func (r *Recorder) ObserveFetch(source string, err error) {
	r.fetches.WithLabelValues(source, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Provider wraps p so that every fetch is counted.
func (r *Recorder) Provider(p marketdata.Provider) marketdata.Provider {
	return &instrumented{Provider: p, rec: r}
}

type instrumented struct {
	marketdata.Provider
	rec *Recorder
}

func (i *instrumented) FetchBars(ctx context.Context, info domain.DataInfo) (domain.Frame, error) {
	f, err := i.Provider.FetchBars(ctx, info)
	i.rec.ObserveFetch(i.Name(), err)
	return f, err
}
