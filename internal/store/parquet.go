package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"stratbench/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serialises read-merge-write cycles
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/<interval>/<SYMBOL>/<YYYY>.parquet
//
// Existing files are merged; a bar with the same timestamp replaces the
// stored one.
func (s *ParquetStore) WriteBars(_ context.Context, market string, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Group by symbol → year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := s.barPath(market, k.symbol, interval, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range, sorted by timestamp.
func (s *ParquetStore) ReadBars(_ context.Context, market, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(market, symbol, interval, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			b := r.bar()
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				bars = append(bars, b)
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data for the market and
// interval.
func (s *ParquetStore) ListSymbols(_ context.Context, market string, interval domain.Interval) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, string(interval))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Years returns the years for which a symbol has a bar file.
func (s *ParquetStore) Years(market, symbol string, interval domain.Interval) ([]int, error) {
	dir := filepath.Join(s.DataDir, market, string(interval), strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		var y int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Coverage
// ---------------------------------------------------------------------------

// RangeRecord is the Parquet schema for a fetched range, in Unix
// milliseconds.
type RangeRecord struct {
	StartMs int64 `parquet:"start_ms"`
	EndMs   int64 `parquet:"end_ms"`
}

// AddCoverage merges r into <DataDir>/<market>/<interval>/<SYMBOL>/ranges.parquet.
func (s *ParquetStore) AddCoverage(_ context.Context, market, symbol string, interval domain.Interval, r Range) error {
	if !r.End.After(r.Start) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.rangePath(market, symbol, interval)
	ranges, err := readRanges(path)
	if err != nil {
		return err
	}
	merged := MergeRanges(append(ranges, r))
	records := make([]RangeRecord, len(merged))
	for i, m := range merged {
		records[i] = RangeRecord{StartMs: m.Start.UnixMilli(), EndMs: m.End.UnixMilli()}
	}
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing coverage for %s: %w", symbol, err)
	}
	return nil
}

// Coverage returns the ranges recorded by AddCoverage. A symbol without a
// record has no coverage.
func (s *ParquetStore) Coverage(_ context.Context, market, symbol string, interval domain.Interval) ([]Range, error) {
	ranges, err := readRanges(s.rangePath(market, symbol, interval))
	if err != nil {
		return nil, err
	}
	return MergeRanges(ranges), nil
}

func readRanges(path string) ([]Range, error) {
	records, err := readParquetFile[RangeRecord](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]Range, len(records))
	for i, r := range records {
		out[i] = Range{Start: time.UnixMilli(r.StartMs).UTC(), End: time.UnixMilli(r.EndMs).UTC()}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/<interval>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(market, symbol string, interval domain.Interval, year int) string {
	return filepath.Join(s.DataDir, market, string(interval), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// rangePath returns the coverage file of a symbol.
func (s *ParquetStore) rangePath(market, symbol string, interval domain.Interval) string {
	return filepath.Join(s.DataDir, market, string(interval), strings.ToUpper(symbol), "ranges.parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records zstd-compressed through a temporary file
// renamed into place, so readers never observe a partial file.
func writeParquetFile[T any](path string, records []T) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err = w.Write(records); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords combines the records of one file, ordered by timestamp.
// An incoming record replaces a stored one with the same timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	merged := make([]BarRecord, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	slices.SortStableFunc(merged, func(a, b BarRecord) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	out := merged[:0]
	for _, r := range merged {
		if n := len(out); n > 0 && out[n-1].Timestamp == r.Timestamp {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}
