// Package broker defines the interfaces the engine needs from a broker
// (order dispatch, position fetch, market/execution feeds) and one
// concrete REST/WebSocket implementation. The broker itself is an
// external collaborator; everything engine-side depends only on the
// narrow interfaces here.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hftplatform/engine/pkg/intents"
)

// Order is the outbound order primitive sent to place_order.
type Order struct {
	Symbol string
	Side   intents.Side
	Price  float64 // descaled; the broker boundary speaks decimals
	Qty    int64
	TIF    intents.TIF
}

// Ack is what place_order returns on success.
type Ack struct {
	SeqNo string
	OrdNo string
}

// Client is the broker dispatch interface consumed by internal/gateway.
type Client interface {
	PlaceOrder(ctx context.Context, order Order) (Ack, error)
	CancelOrder(ctx context.Context, ordNo string) error
}

// Position is one broker-reported open position, as returned by the
// account positions endpoint polled by internal/reconciliation.
type Position struct {
	AccountID  string
	StrategyID string
	Symbol     string
	NetQty     int64   // signed
	AvgPrice   float64 // descaled; the broker boundary speaks decimals
}

// PositionFetcher is the narrow broker capability internal/reconciliation
// depends on, kept separate from Client since gateway never needs it.
type PositionFetcher interface {
	FetchPositions(ctx context.Context) ([]Position, error)
}

// RestyClient wraps a resty HTTP client against a configurable broker
// base URL with bounded retry/backoff.
type RestyClient struct {
	http   *resty.Client
	dryRun bool
}

// New creates a RestyClient. In dry-run mode no network call is made;
// PlaceOrder synthesizes an Ack immediately.
func New(baseURL string, dryRun bool) *RestyClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	return &RestyClient{http: c, dryRun: dryRun}
}

type placeOrderResponse struct {
	SeqNo string `json:"seq_no"`
	OrdNo string `json:"ord_no"`
}

// PlaceOrder dispatches an order to the broker's REST endpoint.
func (c *RestyClient) PlaceOrder(ctx context.Context, order Order) (Ack, error) {
	if c.dryRun {
		return Ack{SeqNo: fmt.Sprintf("dryrun-%d", time.Now().UnixNano()), OrdNo: "dryrun"}, nil
	}

	var result placeOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(order).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return Ack{}, fmt.Errorf("place order: %w", err)
	}
	if resp.IsError() {
		return Ack{}, fmt.Errorf("place order: broker returned %s", resp.Status())
	}
	return Ack{SeqNo: result.SeqNo, OrdNo: result.OrdNo}, nil
}

type fetchPositionsResponse struct {
	Positions []struct {
		AccountID  string  `json:"account_id"`
		StrategyID string  `json:"strategy_id"`
		Symbol     string  `json:"symbol"`
		NetQty     int64   `json:"net_qty"`
		AvgPrice   float64 `json:"avg_price"`
	} `json:"positions"`
}

// FetchPositions polls the broker's account positions endpoint, used by
// Reconciliation to diff against PositionStore's internal view.
func (c *RestyClient) FetchPositions(ctx context.Context) ([]Position, error) {
	if c.dryRun {
		return nil, nil
	}

	var result fetchPositionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch positions: broker returned %s", resp.Status())
	}

	out := make([]Position, 0, len(result.Positions))
	for _, p := range result.Positions {
		out = append(out, Position{
			AccountID:  p.AccountID,
			StrategyID: p.StrategyID,
			Symbol:     p.Symbol,
			NetQty:     p.NetQty,
			AvgPrice:   p.AvgPrice,
		})
	}
	return out, nil
}

// CancelOrder cancels a live order by broker order number.
func (c *RestyClient) CancelOrder(ctx context.Context, ordNo string) error {
	if c.dryRun {
		return nil
	}
	resp, err := c.http.R().SetContext(ctx).Delete("/orders/" + ordNo)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cancel order: broker returned %s", resp.Status())
	}
	return nil
}
