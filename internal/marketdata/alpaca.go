package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratbench/internal/domain"
	"stratbench/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// barsClient is the part of the Alpaca market-data client the provider uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Feed       string // "sip" or "iex"
	RatePerMin int
	Retries    int
	Backoff    time.Duration
}

// AlpacaProvider fetches bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client  barsClient
	feed    string
	limiter *util.RateLimiter
	retries int
	backoff time.Duration
	log     *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider. Zero rate, retry and backoff
// settings fall back to 200 requests per minute and 3 attempts from 1s.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	copts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		copts.BaseURL = opts.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(copts), opts)
}

func newAlpacaProvider(client barsClient, opts AlpacaOptions) *AlpacaProvider {
	if opts.RatePerMin <= 0 {
		opts.RatePerMin = 200
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &AlpacaProvider{
		client:  client,
		feed:    opts.Feed,
		limiter: util.NewRateLimiter(opts.RatePerMin),
		retries: opts.Retries,
		backoff: opts.Backoff,
		log:     slog.Default().With("provider", SourceAlpaca),
	}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return SourceAlpaca }

// FetchBars requests the bars for info and returns them cleaned.
func (p *AlpacaProvider) FetchBars(ctx context.Context, info domain.DataInfo) (domain.Frame, error) {
	start, end, err := requestRange(info)
	if err != nil {
		return domain.Frame{}, err
	}
	tf, err := alpacaTimeFrame(info.Interval)
	if err != nil {
		return domain.Frame{}, err
	}

	req := marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Adjustment: marketdata.Adjustment("raw"),
		Start:      start,
		End:        end.Add(-time.Nanosecond),
	}
	if info.AutoAdjust {
		req.Adjustment = marketdata.Adjustment("all")
	}
	if p.feed != "" {
		req.Feed = marketdata.Feed(p.feed)
	}

	symbol := strings.ToUpper(info.Ticker)
	var raw []marketdata.Bar
	err = util.Retry(ctx, p.retries, p.backoff, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		raw, ferr = p.client.GetBars(symbol, req)
		if ferr != nil {
			p.log.Warn("GetBars failed", "symbol", symbol, "err", ferr)
		}
		return ferr
	})
	if err != nil {
		return domain.Frame{}, fmt.Errorf("fetching %s from alpaca: %w", info, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	p.log.Debug("fetched bars", "request", info.String(), "bars", len(bars))
	return finish(info, bars)
}

// alpacaTimeFrame maps an interval to the Alpaca time frame.
func alpacaTimeFrame(iv domain.Interval) (marketdata.TimeFrame, error) {
	switch iv {
	case domain.Interval1m:
		return marketdata.NewTimeFrame(1, marketdata.Min), nil
	case domain.Interval2m:
		return marketdata.NewTimeFrame(2, marketdata.Min), nil
	case domain.Interval5m:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Interval15m:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Interval30m:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case domain.Interval60m, domain.Interval1h:
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case domain.Interval1d:
		return marketdata.NewTimeFrame(1, marketdata.Day), nil
	case domain.Interval1wk:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case domain.Interval1mo:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	case domain.Interval3mo:
		return marketdata.NewTimeFrame(3, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("%w: alpaca has no %q bars", ErrUnsupportedInterval, iv)
}
