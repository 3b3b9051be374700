// Package feed supplies market prices to the risk engine and the SL/TP
// watcher: a Redis-cached feed fed by a streaming source, and a mock feed
// for demo and sandbox use.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	cache "github.com/farrukhsid/brokerledger/internal/cache/redis"
	"github.com/farrukhsid/brokerledger/internal/domain"
)

// CachedFeed implements domain.PriceFeed over the Redis quote cache. A quote
// older than maxAge is treated as missing: trading against a dead stream is
// worse than rejecting the order.
type CachedFeed struct {
	quotes *cache.QuoteCache
	maxAge time.Duration
}

// NewCachedFeed creates a feed reading from the given quote cache. maxAge
// bounds quote staleness; zero disables the check.
func NewCachedFeed(quotes *cache.QuoteCache, maxAge time.Duration) *CachedFeed {
	return &CachedFeed{quotes: quotes, maxAge: maxAge}
}

// GetQuote returns the cached quote for symbol, rejecting stale entries.
func (f *CachedFeed) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := f.quotes.GetQuote(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Quote{}, domain.ErrMarketData.WithMessage(
				fmt.Sprintf("no quote for %s", symbol))
		}
		return domain.Quote{}, fmt.Errorf("feed: get quote %s: %w", symbol, err)
	}
	if f.maxAge > 0 && time.Since(q.At) > f.maxAge {
		return domain.Quote{}, domain.ErrMarketData.WithMessage(
			fmt.Sprintf("quote for %s is stale (%s old)", symbol, time.Since(q.At).Truncate(time.Millisecond)))
	}
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return domain.Quote{}, domain.ErrMarketData.WithMessage(
			fmt.Sprintf("quote for %s has non-positive prices", symbol))
	}
	return q, nil
}

// GetPrice returns the mid price of the cached quote.
func (f *CachedFeed) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := f.GetQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Mid(), nil
}

var _ domain.PriceFeed = (*CachedFeed)(nil)
