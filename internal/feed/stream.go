package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// quoteMessage is the wire shape of one tick from the upstream quote stream.
type quoteMessage struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp string  `json:"timestamp"`
}

// subscribeCommand is sent once per connection to select symbols.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// StreamFeed connects to the upstream quote WebSocket, subscribes to the
// configured symbols and writes every tick into the quote sink. It owns the
// connection lifecycle and reconnects with exponential backoff.
type StreamFeed struct {
	wsURL   string
	symbols []string
	sink    domain.PriceSink
	logger  *slog.Logger
}

// NewStreamFeed creates a feed that subscribes to the given symbols.
func NewStreamFeed(wsURL string, symbols []string, sink domain.PriceSink, logger *slog.Logger) *StreamFeed {
	return &StreamFeed{
		wsURL:   wsURL,
		symbols: symbols,
		sink:    sink,
		logger:  logger.With(slog.String("component", "stream_feed")),
	}
}

// Run connects and pumps quotes until ctx is cancelled. Disconnects trigger
// a reconnect with exponential backoff; the backoff resets after a healthy
// connection.
func (f *StreamFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.InfoContext(ctx, "no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > time.Minute {
			delay = reconnectDelay
		}

		f.logger.WarnContext(ctx, "quote stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes and reads until the connection drops or
// ctx is done.
func (f *StreamFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Type: "subscribe", Symbols: f.symbols}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "quote stream subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handleMessage(ctx, message); err != nil {
			f.logger.DebugContext(ctx, "quote message dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(message)),
			)
		}
	}
}

// handleMessage decodes one tick and writes it into the sink. Malformed or
// non-positive quotes are dropped; a sink failure is reported but does not
// kill the connection.
func (f *StreamFeed) handleMessage(ctx context.Context, raw []byte) error {
	var msg quoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal quote: %w", err)
	}
	if msg.Symbol == "" || msg.Bid <= 0 || msg.Ask <= 0 {
		return nil
	}

	at := time.Now()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			at = t
		}
	}

	q := domain.Quote{
		Symbol: msg.Symbol,
		Bid:    decimal.NewFromFloat(msg.Bid),
		Ask:    decimal.NewFromFloat(msg.Ask),
		At:     at,
	}
	if err := f.sink.PutQuote(ctx, q); err != nil {
		return fmt.Errorf("put quote %s: %w", q.Symbol, err)
	}
	return nil
}
