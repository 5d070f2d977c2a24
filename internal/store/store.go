// Package store defines storage interfaces for persisting and retrieving
// cached market data and the results of backtest runs.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"stratbench/internal/domain"
	"stratbench/internal/stats"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with what is stored.
	WriteBars(ctx context.Context, market string, interval domain.Interval, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, market, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for a market and interval.
	ListSymbols(ctx context.Context, market string, interval domain.Interval) ([]string, error)

	// AddCoverage records that every bar of symbol inside r has been
	// written.
	AddCoverage(ctx context.Context, market, symbol string, interval domain.Interval, r Range) error

	// Coverage returns the recorded ranges of symbol, merged and sorted.
	Coverage(ctx context.Context, market, symbol string, interval domain.Interval) ([]Range, error)
}

// Range is the half-open time range [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// MergeRanges sorts ranges by start and joins overlapping or touching ones.
// Empty ranges are dropped.
func MergeRanges(ranges []Range) []Range {
	out := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.End.After(r.Start) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Range) int { return a.Start.Compare(b.Start) })

	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && !r.Start.After(merged[n-1].End) {
			if r.End.After(merged[n-1].End) {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Covered reports whether the union of ranges contains [start, end).
func Covered(ranges []Range, start, end time.Time) bool {
	cur := start
	for _, r := range MergeRanges(ranges) {
		if !cur.Before(end) {
			break
		}
		if r.Start.After(cur) {
			return false
		}
		if r.End.After(cur) {
			cur = r.End
		}
	}
	return !cur.Before(end)
}

// RunRecord is a persisted backtest result.
type RunRecord struct {
	ID        int64              `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Data      domain.DataInfo    `json:"data"`
	Strategy  string             `json:"strategy"`
	Params    map[string]float64 `json:"params"`
	Metrics   map[string]float64 `json:"metrics"`
}

// RunStore persists backtest runs and their trades.
type RunStore interface {
	// SaveRun inserts a run and returns its ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// SaveTrades stores the trades of a run.
	SaveTrades(ctx context.Context, runID int64, trades []stats.Trade) error

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first. An empty
	// strategy matches all strategies.
	ListRuns(ctx context.Context, strategy string, limit int) ([]RunRecord, error)

	// ListTrades returns the trades of a run in exit order.
	ListTrades(ctx context.Context, runID int64) ([]stats.Trade, error)
}
