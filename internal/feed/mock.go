package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// MockFeed is an in-process price feed for demo accounts, sandbox runs and
// tests. Each symbol follows an independent random walk around its seeded
// price; Set pins a symbol to an exact price for deterministic tests.
type MockFeed struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	spread  decimal.Decimal // half-spread as a fraction of mid
	drift   decimal.Decimal // max step as a fraction of mid
	rng     *rand.Rand
	walking bool
}

// NewMockFeed seeds a feed with base prices. Symbols not in base are unknown
// and return MARKET_DATA_ERROR.
func NewMockFeed(base map[string]decimal.Decimal) *MockFeed {
	prices := make(map[string]decimal.Decimal, len(base))
	for s, p := range base {
		prices[s] = p
	}
	return &MockFeed{
		prices:  prices,
		spread:  decimal.NewFromFloat(0.0001),
		drift:   decimal.NewFromFloat(0.0005),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		walking: true,
	}
}

// Set pins a symbol to price and stops its random walk. Intended for tests.
func (f *MockFeed) Set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	f.walking = false
}

// GetPrice returns the symbol's current mid price, stepping the walk.
func (f *MockFeed) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, domain.ErrMarketData.WithMessage(
			fmt.Sprintf("no quote for %s", symbol))
	}
	if f.walking {
		p = f.step(p)
		f.prices[symbol] = p
	}
	return p, nil
}

// GetQuote returns a synthetic quote with a fixed fractional spread around
// the walked mid.
func (f *MockFeed) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	mid, err := f.GetPrice(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	half := mid.Mul(f.spread)
	return domain.Quote{
		Symbol: symbol,
		Bid:    mid.Sub(half),
		Ask:    mid.Add(half),
		At:     time.Now(),
	}, nil
}

// step moves the price by a uniform fraction in [-drift, +drift] of itself.
func (f *MockFeed) step(p decimal.Decimal) decimal.Decimal {
	frac := decimal.NewFromFloat(f.rng.Float64()*2 - 1).Mul(f.drift)
	next := p.Add(p.Mul(frac))
	if !next.IsPositive() {
		return p
	}
	return next
}

// Pump publishes walked quotes for every seeded symbol into sink on each
// tick, until ctx is done. It lets the sandbox exercise the same cache path
// as the live stream.
func (f *MockFeed) Pump(ctx context.Context, sink domain.PriceSink, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.mu.Lock()
			symbols := make([]string, 0, len(f.prices))
			for s := range f.prices {
				symbols = append(symbols, s)
			}
			f.mu.Unlock()

			for _, s := range symbols {
				q, err := f.GetQuote(ctx, s)
				if err != nil {
					continue
				}
				if err := sink.PutQuote(ctx, q); err != nil {
					return fmt.Errorf("feed: pump %s: %w", s, err)
				}
			}
		}
	}
}

var _ domain.PriceFeed = (*MockFeed)(nil)
