// Package marketdata retrieves OHLC frames for backtests from Alpaca, local
// Yahoo-style CSV files or the Parquet bar cache.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stratbench/internal/domain"
)

var (
	// ErrNoData is returned when a provider has no bars for a request.
	ErrNoData = errors.New("no data")

	// ErrUnsupportedInterval is returned when a provider cannot serve an
	// interval.
	ErrUnsupportedInterval = errors.New("unsupported interval")
)

// Provider fetches the bars described by a DataInfo.
type Provider interface {
	// Name identifies the data source; it is also the cache market key.
	Name() string

	// FetchBars returns the cleaned frame for info over [start, end).
	FetchBars(ctx context.Context, info domain.DataInfo) (domain.Frame, error)
}

// Clean drops bars without trading (High == Low), sorts by time and removes
// duplicate timestamps, keeping the last occurrence. Daily and longer bars
// are truncated to midnight UTC.
func Clean(f domain.Frame) domain.Frame {
	intraday := f.Interval.IsIntraday()
	kept := make([]domain.Bar, 0, len(f.Bars))
	for _, b := range f.Bars {
		if b.High == b.Low {
			continue
		}
		b.Timestamp = b.Timestamp.UTC()
		if !intraday {
			y, m, d := b.Timestamp.Date()
			b.Timestamp = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		if b.Symbol == "" {
			b.Symbol = f.Symbol
		}
		kept = append(kept, b)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})

	out := kept[:0]
	for _, b := range kept {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return domain.Frame{Symbol: f.Symbol, Interval: f.Interval, Bars: out}
}

// finish cleans bars into a frame and fails with ErrNoData when nothing is
// left.
func finish(info domain.DataInfo, bars []domain.Bar) (domain.Frame, error) {
	f := Clean(domain.Frame{Symbol: strings.ToUpper(info.Ticker), Interval: info.Interval, Bars: bars})
	if f.Empty() {
		return f, fmt.Errorf("%s: %w", info, ErrNoData)
	}
	return f, nil
}

// requestRange validates info and returns its [start, end) range.
func requestRange(info domain.DataInfo) (time.Time, time.Time, error) {
	if err := info.Validate(); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid data request: %w", err)
	}
	return info.Range()
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Source names accepted by New.
const (
	SourceAlpaca = "alpaca"
	SourceCSV    = "csv"
)

// Options configures New.
type Options struct {
	Source       string
	Alpaca       AlpacaOptions
	CSVDir       string
	CacheDir     string // empty disables the Parquet cache
	RatePerMin   int
	RetryCount   int
	RetryBackoff time.Duration
}

// New builds the provider named by opts.Source, wrapped in the bar cache
// when opts.CacheDir is set.
func New(opts Options) (Provider, error) {
	var p Provider
	switch strings.ToLower(opts.Source) {
	case SourceAlpaca, "":
		a := opts.Alpaca
		if opts.RatePerMin > 0 {
			a.RatePerMin = opts.RatePerMin
		}
		if opts.RetryCount > 0 {
			a.Retries = opts.RetryCount
			a.Backoff = opts.RetryBackoff
		}
		p = NewAlpacaProvider(a)
	case SourceCSV:
		if opts.CSVDir == "" {
			return nil, errors.New("csv source needs a directory")
		}
		p = NewCSVProvider(opts.CSVDir)
	default:
		return nil, fmt.Errorf("unknown data source %q", opts.Source)
	}
	if opts.CacheDir != "" {
		p = NewCachedProvider(p, opts.CacheDir)
	}
	return p, nil
}
