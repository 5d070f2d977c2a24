package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"stratbench/internal/domain"
	"stratbench/internal/store"
)

// Compile-time interface check.
var _ Provider = (*CachedProvider)(nil)

// CachedProvider serves requests from the Parquet bar cache and falls back
// to the wrapped provider, storing what it fetched.
type CachedProvider struct {
	next  Provider
	cache store.BarStore
	log   *slog.Logger
	now   func() time.Time
}

// NewCachedProvider wraps next with a ParquetStore rooted at dir.
func NewCachedProvider(next Provider, dir string) *CachedProvider {
	return NewCachedProviderWithStore(next, store.NewParquetStore(dir))
}

// NewCachedProviderWithStore wraps next with an arbitrary bar store.
func NewCachedProviderWithStore(next Provider, cache store.BarStore) *CachedProvider {
	return &CachedProvider{
		next:  next,
		cache: cache,
		log:   slog.Default().With("provider", "cache", "source", next.Name()),
		now:   time.Now,
	}
}

// Name returns the wrapped provider's name.
func (p *CachedProvider) Name() string { return p.next.Name() }

// market is the cache partition: source plus adjustment mode.
func (p *CachedProvider) market(info domain.DataInfo) string {
	if info.AutoAdjust {
		return p.next.Name() + "-adj"
	}
	return p.next.Name() + "-raw"
}

// FetchBars returns cached bars when the recorded coverage contains the
// whole request and otherwise fetches from the wrapped provider, writes the
// bars and records the requested range as covered. Ranges reaching past the
// current time are recorded up to now only. Cache failures are logged, not
// returned.
func (p *CachedProvider) FetchBars(ctx context.Context, info domain.DataInfo) (domain.Frame, error) {
	start, end, err := requestRange(info)
	if err != nil {
		return domain.Frame{}, err
	}
	market := p.market(info)
	symbol := strings.ToUpper(info.Ticker)

	if bars, ok := p.lookup(ctx, market, symbol, info, start, end); ok {
		p.log.Debug("cache hit", "request", info.String(), "bars", len(bars))
		return finish(info, bars)
	}

	frame, err := p.next.FetchBars(ctx, info)
	if err != nil {
		return domain.Frame{}, err
	}
	if err := p.cache.WriteBars(ctx, market, info.Interval, frame.Bars); err != nil {
		p.log.Warn("writing cache failed", "request", info.String(), "err", err)
		return frame, nil
	}
	if now := p.now(); end.After(now) {
		end = now
	}
	if err := p.cache.AddCoverage(ctx, market, symbol, info.Interval, store.Range{Start: start, End: end}); err != nil {
		p.log.Warn("recording coverage failed", "request", info.String(), "err", err)
	}
	return frame, nil
}

// lookup reads the cached bars of [start, end) when the coverage contains
// the range.
func (p *CachedProvider) lookup(ctx context.Context, market, symbol string, info domain.DataInfo, start, end time.Time) ([]domain.Bar, bool) {
	ranges, err := p.cache.Coverage(ctx, market, symbol, info.Interval)
	if err != nil {
		p.log.Warn("reading coverage failed", "request", info.String(), "err", err)
		return nil, false
	}
	if !store.Covered(ranges, start, end) {
		return nil, false
	}
	bars, err := p.cache.ReadBars(ctx, market, symbol, info.Interval, start, end.Add(-time.Nanosecond))
	if err != nil {
		p.log.Warn("reading cache failed", "request", info.String(), "err", err)
		return nil, false
	}
	return bars, true
}
