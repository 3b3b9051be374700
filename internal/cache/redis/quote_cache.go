package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// QuoteCache stores the latest quote per symbol as a Redis hash at
// "quote:{symbol}" with fields "bid", "ask" and "ts" (Unix nanoseconds).
// It is the hand-off point between the streaming feed and price readers.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Entries
// expire after ttl so readers never see quotes from a dead stream; a zero
// ttl keeps entries forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// PutQuote stores the latest quote for a symbol.
func (qc *QuoteCache) PutQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Symbol)
	fields := map[string]interface{}{
		"bid": q.Bid.String(),
		"ask": q.Ask.String(),
		"ts":  strconv.FormatInt(q.At.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a symbol. It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	bid, err := decimal.NewFromString(vals["bid"])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s: %w", symbol, err)
	}
	ask, err := decimal.NewFromString(vals["ask"])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s: %w", symbol, err)
	}

	return domain.Quote{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		At:     time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceSink = (*QuoteCache)(nil)
