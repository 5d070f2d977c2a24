package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stratbench/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*CSVProvider)(nil)

// CSVProvider reads Yahoo-Finance style CSV exports, one file per ticker at
// <Dir>/<TICKER>.csv with the header Date,Open,High,Low,Close,Adj Close,Volume.
type CSVProvider struct {
	Dir string
	log *slog.Logger
}

// NewCSVProvider creates a CSVProvider reading from dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir, log: slog.Default().With("provider", SourceCSV)}
}

// Name returns the provider identifier.
func (p *CSVProvider) Name() string { return SourceCSV }

// FetchBars loads the ticker's file and keeps the rows in [start, end).
// With AutoAdjust, OHLC are scaled by Adj Close / Close.
func (p *CSVProvider) FetchBars(_ context.Context, info domain.DataInfo) (domain.Frame, error) {
	start, end, err := requestRange(info)
	if err != nil {
		return domain.Frame{}, err
	}
	path := filepath.Join(p.Dir, strings.ToUpper(info.Ticker)+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Frame{}, fmt.Errorf("%s: %w", info, ErrNoData)
		}
		return domain.Frame{}, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	rows, err := readYahooCSV(f, strings.ToUpper(info.Ticker), info.AutoAdjust)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("reading CSV %s: %w", path, err)
	}

	bars := rows[:0]
	for _, b := range rows {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			bars = append(bars, b)
		}
	}
	p.log.Debug("loaded bars", "path", path, "rows", len(rows), "bars", len(bars))
	return finish(info, bars)
}

var csvTimeLayouts = []string{
	domain.DateLayout,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseCSVTime(s string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// readYahooCSV parses the rows of a Yahoo export. Rows holding "null"
// values are skipped.
func readYahooCSV(r io.Reader, symbol string, adjust bool) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["date"]; !ok {
		if i, ok := col["datetime"]; ok {
			col["date"] = i
		}
	}
	for _, need := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing column %q", need)
		}
	}
	adjCol, hasAdj := col["adj close"]
	volCol, hasVol := col["volume"]

	var bars []domain.Bar
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		field := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		ts, err := parseCSVTime(field(col["date"]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var ohlc [4]float64
		skip := false
		for k, name := range []string{"open", "high", "low", "close"} {
			s := field(col[name])
			if s == "" || s == "null" {
				skip = true
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
			ohlc[k] = v
		}
		if skip {
			continue
		}

		b := domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      ohlc[0],
			High:      ohlc[1],
			Low:       ohlc[2],
			Close:     ohlc[3],
		}
		if hasVol {
			if v, err := strconv.ParseFloat(field(volCol), 64); err == nil {
				b.Volume = int64(v)
			}
		}
		if adjust && hasAdj && b.Close != 0 {
			if adj, err := strconv.ParseFloat(field(adjCol), 64); err == nil {
				ratio := adj / b.Close
				b.Open *= ratio
				b.High *= ratio
				b.Low *= ratio
				b.Close = adj
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}
