package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"stratbench/internal/domain"
	"stratbench/internal/stats"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("yahoo", "aapl", domain.Interval1d, 2024)
	want := filepath.Join("/data", "yahoo", "1d", "AAPL", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
		{
			Symbol:    "AAPL",
			Timestamp: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:      240, High: 242, Low: 239, Close: 241,
		},
	}

	if err := ps.WriteBars(ctx, "us", domain.Interval1d, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "us", "AAPL", domain.Interval1d, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = %v/%v, want 185.5/186", got[0].Close, got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) {
		t.Errorf("first timestamp = %v, want %v", got[0].Timestamp, bars[0].Timestamp)
	}

	// Range end is inclusive and spans years.
	got, err = ps.ReadBars(ctx, "us", "AAPL", domain.Interval1d, start, bars[2].Timestamp)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("ReadBars over two years returned %d bars, want 3", len(got))
	}

	years, err := ps.Years("us", "AAPL", domain.Interval1d)
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 2 || years[0] != 2024 || years[1] != 2025 {
		t.Errorf("Years = %v, want [2024 2025]", years)
	}
}

func TestParquetStoreReadMissing(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(context.Background(), "us", "NONE", domain.Interval1d, start, start.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadBars returned %d bars, want 0", len(got))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, "us", domain.Interval1d, bars1); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same symbol+year merges; a repeated timestamp replaces the old bar.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000, TradeCount: 350000, VWAP: 406.0,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 404.0,
		},
	}
	if err := ps.WriteBars(ctx, "us", domain.Interval1d, bars2); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "us", "MSFT", domain.Interval1d, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("replaced bar Close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, "us", domain.Interval1d, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us", domain.Interval1d)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	symbols, err = ps.ListSymbols(ctx, "us", domain.Interval1wk)
	if err != nil {
		t.Fatalf("ListSymbols (empty): %v", err)
	}
	if len(symbols) != 0 {
		t.Errorf("ListSymbols for unused interval = %v, want none", symbols)
	}
}

func TestMergeRangesAndCovered(t *testing.T) {
	d := func(m, day int) time.Time { return time.Date(2020, time.Month(m), day, 0, 0, 0, 0, time.UTC) }
	ranges := []Range{
		{Start: d(5, 1), End: d(6, 1)},
		{Start: d(1, 1), End: d(2, 1)},
		{Start: d(1, 15), End: d(2, 1)},
		{Start: d(2, 1), End: d(2, 10)},
		{Start: d(3, 1), End: d(3, 1)},
	}
	merged := MergeRanges(ranges)
	want := []Range{{Start: d(1, 1), End: d(2, 10)}, {Start: d(5, 1), End: d(6, 1)}}
	if len(merged) != len(want) {
		t.Fatalf("MergeRanges = %v, want %v", merged, want)
	}
	for i := range want {
		if !merged[i].Start.Equal(want[i].Start) || !merged[i].End.Equal(want[i].End) {
			t.Errorf("MergeRanges[%d] = %v, want %v", i, merged[i], want[i])
		}
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside first", d(1, 5), d(2, 5), true},
		{"exact second", d(5, 1), d(6, 1), true},
		{"spans hole", d(1, 1), d(6, 1), false},
		{"starts early", d(12, 1).AddDate(-1, 0, 0), d(1, 10), false},
		{"ends late", d(5, 10), d(6, 2), false},
		{"in hole", d(3, 1), d(4, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Covered(ranges, tt.start, tt.end); got != tt.want {
				t.Errorf("Covered(%s, %s) = %v, want %v", tt.start.Format(time.DateOnly), tt.end.Format(time.DateOnly), got, tt.want)
			}
		})
	}
	if Covered(nil, d(1, 1), d(1, 2)) {
		t.Error("Covered(nil) = true, want false")
	}
}

func TestParquetStoreCoverage(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	d := func(m, day int) time.Time { return time.Date(2020, time.Month(m), day, 0, 0, 0, 0, time.UTC) }

	got, err := ps.Coverage(ctx, "csv-adj", "SPY", domain.Interval1d)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Coverage of unknown symbol = %v, want none", got)
	}

	for _, r := range []Range{
		{Start: d(1, 1), End: d(2, 1)},
		{Start: d(5, 1), End: d(6, 1)},
		{Start: d(2, 1), End: d(5, 1)},
	} {
		if err := ps.AddCoverage(ctx, "csv-adj", "spy", domain.Interval1d, r); err != nil {
			t.Fatalf("AddCoverage: %v", err)
		}
	}
	got, err = ps.Coverage(ctx, "csv-adj", "SPY", domain.Interval1d)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(d(1, 1)) || !got[0].End.Equal(d(6, 1)) {
		t.Errorf("Coverage = %v, want one range 2020-01-01..2020-06-01", got)
	}

	// The coverage file is not mistaken for a year of bars.
	years, err := ps.Years("csv-adj", "SPY", domain.Interval1d)
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 0 {
		t.Errorf("Years = %v, want none", years)
	}
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := s.db.Ping(); err != nil {
			t.Fatalf("db.Ping() returned error: %v", err)
		}
		s.Close()
	}
}

func sampleRun() *RunRecord {
	return &RunRecord{
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Data: domain.DataInfo{
			Ticker:     "AAPL",
			StartDate:  "2020-01-01",
			EndDate:    "2021-01-01",
			Interval:   domain.Interval1d,
			AutoAdjust: true,
		},
		Strategy: "SmaCross",
		Params:   map[string]float64{"n1": 10, "n2": 20},
		Metrics: map[string]float64{
			stats.MetricReturn: 12.5,
			stats.MetricSharpe: math.NaN(),
		},
	}
}

func TestSQLiteStoreSaveGetRun(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	run := sampleRun()
	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id <= 0 || run.ID != id {
		t.Fatalf("SaveRun id = %d, run.ID = %d", id, run.ID)
	}

	got, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "SmaCross" || got.Data != run.Data {
		t.Errorf("GetRun = %+v, want strategy SmaCross and data %+v", got, run.Data)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
	if got.Params["n2"] != 20 {
		t.Errorf("Params = %v", got.Params)
	}
	if got.Metrics[stats.MetricReturn] != 12.5 {
		t.Errorf("Return metric = %v, want 12.5", got.Metrics[stats.MetricReturn])
	}
	if v, ok := got.Metrics[stats.MetricSharpe]; !ok || !math.IsNaN(v) {
		t.Errorf("NaN metric read back as %v (present %v)", v, ok)
	}

	if _, err := s.GetRun(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	for i, name := range []string{"SmaCross", "MaxMin", "SmaCross"} {
		run := sampleRun()
		run.Strategy = name
		run.CreatedAt = run.CreatedAt.Add(time.Duration(i) * time.Hour)
		if _, err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns returned %d runs, want 3", len(all))
	}
	if all[0].ID != 3 {
		t.Errorf("newest run ID = %d, want 3", all[0].ID)
	}

	sma, err := s.ListRuns(ctx, "SmaCross", 1)
	if err != nil {
		t.Fatalf("ListRuns(SmaCross): %v", err)
	}
	if len(sma) != 1 || sma[0].ID != 3 {
		t.Errorf("ListRuns(SmaCross, 1) = %+v", sma)
	}
}

func TestSQLiteStoreTrades(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, sampleRun())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	entry := time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC)
	trades := []stats.Trade{
		{Size: 10, EntryBar: 5, ExitBar: 9, EntryPrice: 100, ExitPrice: 110, EntryTime: entry,
			ExitTime: entry.AddDate(0, 0, 4), PL: 100, ReturnPct: 0.1, ExitReason: "signal"},
		{Size: -3, EntryBar: 12, ExitBar: 13, EntryPrice: 50, ExitPrice: 55, EntryTime: entry.AddDate(0, 0, 7),
			ExitTime: entry.AddDate(0, 0, 8), PL: -15, ReturnPct: -0.1, ExitReason: "stop_loss", Tag: "short"},
	}
	if err := s.SaveTrades(ctx, id, trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}

	got, err := s.ListTrades(ctx, id)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListTrades returned %d trades, want 2", len(got))
	}
	g, w := got[1], trades[1]
	if g.Size != w.Size || g.PL != w.PL || g.ExitReason != w.ExitReason || g.Tag != w.Tag ||
		!g.EntryTime.Equal(w.EntryTime) || !g.ExitTime.Equal(w.ExitTime) {
		t.Errorf("second trade = %+v, want %+v", g, w)
	}
	if got[0].Duration() != 4*24*time.Hour {
		t.Errorf("first trade duration = %v", got[0].Duration())
	}
}
