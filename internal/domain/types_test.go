package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in       string
		want     Interval
		intraday bool
	}{
		{"1m", Interval1m, true},
		{"90m", Interval90m, true},
		{"1H", Interval1h, true},
		{"1d", Interval1d, false},
		{" 1wk ", Interval1wk, false},
		{"3mo", Interval3mo, false},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got.IsIntraday() != tt.intraday {
			t.Errorf("%q.IsIntraday() = %v, want %v", got, got.IsIntraday(), tt.intraday)
		}
	}

	if _, err := ParseInterval("4h"); !errors.Is(err, ErrUnknownInterval) {
		t.Errorf("ParseInterval(4h) error = %v, want ErrUnknownInterval", err)
	}
}

func TestIntervalsOrdered(t *testing.T) {
	ivs := Intervals()
	if len(ivs) != 13 {
		t.Fatalf("Intervals() returned %d entries, want 13", len(ivs))
	}
	for i := 1; i < len(ivs); i++ {
		if ivs[i].Duration() < ivs[i-1].Duration() {
			t.Errorf("Intervals() not ordered at %d: %s before %s", i, ivs[i-1], ivs[i])
		}
	}
}

func TestDataInfoValidate(t *testing.T) {
	ok := DataInfo{Ticker: "SPY", StartDate: "2020-01-01", EndDate: "2021-01-01", Interval: Interval1d}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	missing := DataInfo{Ticker: "SPY", Interval: Interval1d}
	if err := missing.Validate(); err == nil {
		t.Error("Validate() should fail without dates")
	}

	reversed := DataInfo{Ticker: "SPY", StartDate: "2021-01-01", EndDate: "2020-01-01", Interval: Interval1d}
	if err := reversed.Validate(); err == nil {
		t.Error("Validate() should fail when end is before start")
	}

	badInterval := DataInfo{Ticker: "SPY", StartDate: "2020-01-01", EndDate: "2021-01-01", Interval: "7m"}
	if err := badInterval.Validate(); !errors.Is(err, ErrUnknownInterval) {
		t.Errorf("Validate() error = %v, want ErrUnknownInterval", err)
	}
}

func TestFrameColumns(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Timestamp: t0.AddDate(0, 0, 1), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 20},
		{Timestamp: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
	f := NewFrame("AAPL", Interval1d, bars)

	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
	if !f.Start().Equal(t0) {
		t.Errorf("Start() = %v, want %v", f.Start(), t0)
	}
	closes := f.Closes()
	if closes[0] != 1.5 || closes[1] != 2.5 {
		t.Errorf("Closes() = %v, want [1.5 2.5]", closes)
	}
	if v := f.Volumes(); v[0] != 10 || v[1] != 20 {
		t.Errorf("Volumes() = %v, want [10 20]", v)
	}
	// NewFrame must not reorder the caller's slice.
	if !bars[0].Timestamp.After(bars[1].Timestamp) {
		t.Error("NewFrame mutated the input slice")
	}
	if s := f.Slice(1, 2); s.Len() != 1 || s.Bars[0].Close != 2.5 {
		t.Errorf("Slice(1,2) = %+v", s.Bars)
	}
}

func TestDataInfoUnmarshalJSON(t *testing.T) {
	var d DataInfo
	if err := json.Unmarshal([]byte(`{"ticker":"SPY","start_date":"2020-01-01","end_date":"2021-01-01"}`), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !d.AutoAdjust || d.Ticker != "SPY" {
		t.Errorf("decoded %+v, want AutoAdjust true and ticker SPY", d)
	}
	if err := json.Unmarshal([]byte(`{"ticker":"SPY","auto_adjust":false}`), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d.AutoAdjust {
		t.Error("explicit auto_adjust=false was overridden")
	}
}
