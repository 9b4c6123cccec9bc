package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// MarketFeed is a WebSocket client for the broker's raw market-data
// callback stream, auto-reconnecting with the same backoff and liveness
// behavior as ExecutionFeed but carrying the "tick" and "bidask" topics
// instead of order/deal.
type MarketFeed struct {
	url    string
	logger *slog.Logger

	tickCh  chan json.RawMessage
	quoteCh chan json.RawMessage
}

// NewMarketFeed creates a MarketFeed dialing wsURL on Run.
func NewMarketFeed(wsURL string, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:     wsURL,
		logger:  logger.With("component", "broker-market-feed"),
		tickCh:  make(chan json.RawMessage, feedChanBuffer),
		quoteCh: make(chan json.RawMessage, feedChanBuffer),
	}
}

// Ticks returns the channel of raw "tick" topic frames.
func (f *MarketFeed) Ticks() <-chan json.RawMessage { return f.tickCh }

// Quotes returns the channel of raw "bidask" topic frames.
func (f *MarketFeed) Quotes() <-chan json.RawMessage { return f.quoteCh }

// Run dials the feed and reconnects with exponential backoff until ctx
// is cancelled.
func (f *MarketFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.runOnce(ctx); err != nil {
			f.logger.Warn("market feed disconnected, reconnecting", "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > feedMaxReconnectWait {
			backoff = feedMaxReconnectWait
		}
	}
}

func (f *MarketFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial market feed: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				conn.Close()
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read market feed: %w", err)
		}

		var msg rawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("malformed market feed frame", "error", err)
			continue
		}

		switch msg.Topic {
		case "tick":
			select {
			case f.tickCh <- msg.Data:
			default:
				f.logger.Warn("tick channel full, dropping frame")
			}
		case "bidask":
			select {
			case f.quoteCh <- msg.Data:
			default:
				f.logger.Warn("quote channel full, dropping frame")
			}
		}
	}
}
