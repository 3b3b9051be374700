package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// captureSink collects pumped quotes.
type captureSink struct {
	mu     sync.Mutex
	quotes []domain.Quote
}

func (c *captureSink) PutQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, q)
	return nil
}

func (c *captureSink) snapshot() []domain.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Quote(nil), c.quotes...)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMockFeedSetPinsPrice(t *testing.T) {
	f := NewMockFeed(map[string]decimal.Decimal{"EURUSD": d("1.10")})
	f.Set("EURUSD", d("1.2345"))

	for i := 0; i < 3; i++ {
		price, err := f.GetPrice(context.Background(), "EURUSD")
		require.NoError(t, err)
		assert.True(t, price.Equal(d("1.2345")), "pinned price must not walk, got %s", price)
	}
}

func TestMockFeedUnknownSymbol(t *testing.T) {
	f := NewMockFeed(nil)
	_, err := f.GetPrice(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, domain.ErrMarketData)
}

func TestMockFeedWalkStaysPositive(t *testing.T) {
	f := NewMockFeed(map[string]decimal.Decimal{"EURUSD": d("1.10")})
	for i := 0; i < 100; i++ {
		price, err := f.GetPrice(context.Background(), "EURUSD")
		require.NoError(t, err)
		assert.True(t, price.IsPositive())
	}
}

func TestMockFeedQuoteSpread(t *testing.T) {
	f := NewMockFeed(map[string]decimal.Decimal{"EURUSD": d("1.10")})
	f.Set("EURUSD", d("1.10"))

	q, err := f.GetQuote(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.True(t, q.Bid.LessThan(q.Ask))
	assert.True(t, q.Mid().Equal(d("1.10")), "mid %s", q.Mid())
}

func TestMockFeedPumpPublishesAllSymbols(t *testing.T) {
	f := NewMockFeed(map[string]decimal.Decimal{
		"EURUSD": d("1.10"),
		"BTCUSD": d("50000"),
	})
	sink := &captureSink{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.Pump(ctx, sink, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	quotes := sink.snapshot()
	require.NotEmpty(t, quotes)
	seen := map[string]bool{}
	for _, q := range quotes {
		assert.True(t, q.Bid.LessThan(q.Ask), "quote %s bid %s ask %s", q.Symbol, q.Bid, q.Ask)
		seen[q.Symbol] = true
	}
	assert.True(t, seen["EURUSD"])
	assert.True(t, seen["BTCUSD"])
}
