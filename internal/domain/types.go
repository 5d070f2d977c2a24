// Package domain defines the core value types shared across stratbench:
// price bars, OHLC frames, bar intervals and data requests.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout used for all user-facing dates.
const DateLayout = "2006-01-02"

// ErrUnknownInterval is returned when an interval string is not recognised.
var ErrUnknownInterval = errors.New("unknown interval")

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Interval
// ---------------------------------------------------------------------------

// Interval is a bar interval as written on the command line ("1d", "15m").
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval60m Interval = "60m"
	Interval90m Interval = "90m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval5d  Interval = "5d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
	Interval3mo Interval = "3mo"
)

var intervals = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval2m:  2 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval60m: time.Hour,
	Interval90m: 90 * time.Minute,
	Interval1h:  time.Hour,
	Interval1d:  24 * time.Hour,
	Interval5d:  5 * 24 * time.Hour,
	Interval1wk: 7 * 24 * time.Hour,
	Interval1mo: 30 * 24 * time.Hour,
	Interval3mo: 91 * 24 * time.Hour,
}

// ParseInterval validates s and returns it as an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervals[iv]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInterval, s)
	}
	return iv, nil
}

// Duration returns the nominal length of one bar.
func (iv Interval) Duration() time.Duration { return intervals[iv] }

// IsIntraday reports whether bars of this interval are shorter than a day.
func (iv Interval) IsIntraday() bool {
	d, ok := intervals[iv]
	return ok && d < 24*time.Hour
}

// Intervals returns every supported interval ordered by duration.
func Intervals() []Interval {
	out := make([]Interval, 0, len(intervals))
	for iv := range intervals {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := intervals[out[i]], intervals[out[j]]
		if di == dj {
			return out[i] < out[j]
		}
		return di < dj
	})
	return out
}

// ---------------------------------------------------------------------------
// DataInfo
// ---------------------------------------------------------------------------

// DataInfo identifies the OHLC data a backtest runs over.
type DataInfo struct {
	Ticker     string   `json:"ticker" yaml:"ticker" validate:"required"`
	StartDate  string   `json:"start_date" yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string   `json:"end_date" yaml:"end_date" validate:"required,datetime=2006-01-02"`
	Interval   Interval `json:"interval" yaml:"interval" default:"1d"`
	AutoAdjust bool     `json:"auto_adjust" yaml:"auto_adjust"`
}

// UnmarshalJSON decodes a DataInfo; auto_adjust defaults to true when the
// field is absent.
func (d *DataInfo) UnmarshalJSON(b []byte) error {
	type plain DataInfo
	p := plain{AutoAdjust: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = DataInfo(p)
	return nil
}

// Range parses the start and end dates. End must be after start.
func (d DataInfo) Range() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, d.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing start date %q: %w", d.StartDate, err)
	}
	end, err := time.Parse(DateLayout, d.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing end date %q: %w", d.EndDate, err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is not after start date %s", d.EndDate, d.StartDate)
	}
	return start, end, nil
}

// Validate checks that every field needed to retrieve data is present.
func (d DataInfo) Validate() error {
	var missing []string
	if d.Ticker == "" {
		missing = append(missing, "ticker")
	}
	if d.StartDate == "" {
		missing = append(missing, "start_date")
	}
	if d.EndDate == "" {
		missing = append(missing, "end_date")
	}
	if d.Interval == "" {
		missing = append(missing, "interval")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if _, err := ParseInterval(string(d.Interval)); err != nil {
		return err
	}
	_, _, err := d.Range()
	return err
}

// String renders the request as TICKER[interval] start..end.
func (d DataInfo) String() string {
	return fmt.Sprintf("%s[%s] %s..%s", strings.ToUpper(d.Ticker), d.Interval, d.StartDate, d.EndDate)
}
