package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval         = 50 * time.Second
	feedReadTimeout      = 90 * time.Second
	feedWriteTimeout     = 10 * time.Second
	feedMaxReconnectWait = 30 * time.Second
	feedChanBuffer       = 256
)

// rawMessage is the duck-typed envelope every execution feed frame
// arrives wrapped in, routed by Topic to the order/deal channels.
type rawMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// ExecutionFeed is a WebSocket client for the broker's order/deal
// callback stream, auto-reconnecting with exponential backoff
// (1s doubling to 30s) and a read-deadline-driven ping/pong liveness
// check.
type ExecutionFeed struct {
	url    string
	logger *slog.Logger

	orderCh chan json.RawMessage
	dealCh  chan json.RawMessage
}

// NewExecutionFeed creates an ExecutionFeed dialing wsURL on Run.
func NewExecutionFeed(wsURL string, logger *slog.Logger) *ExecutionFeed {
	return &ExecutionFeed{
		url:     wsURL,
		logger:  logger.With("component", "broker-execution-feed"),
		orderCh: make(chan json.RawMessage, feedChanBuffer),
		dealCh:  make(chan json.RawMessage, feedChanBuffer),
	}
}

// Orders returns the channel of raw "order" topic frames.
func (f *ExecutionFeed) Orders() <-chan json.RawMessage { return f.orderCh }

// Deals returns the channel of raw "deal" topic frames.
func (f *ExecutionFeed) Deals() <-chan json.RawMessage { return f.dealCh }

// Run dials the feed and reconnects with exponential backoff until ctx
// is cancelled.
func (f *ExecutionFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.runOnce(ctx); err != nil {
			f.logger.Warn("execution feed disconnected, reconnecting", "error", err, "backoff", backoff)
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

func (f *ExecutionFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial execution feed: %w", err)
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
			return fmt.Errorf("read execution feed: %w", err)
		}

		var msg rawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("malformed execution feed frame", "error", err)
			continue
		}

		switch msg.Topic {
		case "order":
			select {
			case f.orderCh <- msg.Data:
			default:
				f.logger.Warn("order channel full, dropping frame")
			}
		case "deal":
			select {
			case f.dealCh <- msg.Data:
			default:
				f.logger.Warn("deal channel full, dropping frame")
			}
		}
	}
}
