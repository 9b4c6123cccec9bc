package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hftplatform/engine/internal/api"
	"github.com/hftplatform/engine/internal/broker"
	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/internal/execrouter"
	"github.com/hftplatform/engine/internal/gatewaypolicy"
	"github.com/hftplatform/engine/internal/lob"
	"github.com/hftplatform/engine/internal/normalizer"
	"github.com/hftplatform/engine/internal/position"
	"github.com/hftplatform/engine/internal/reconciliation"
	"github.com/hftplatform/engine/internal/risk"
	"github.com/hftplatform/engine/internal/stormguard"
	"github.com/hftplatform/engine/pkg/intents"
)

// intentQueue is the bounded channel StrategyRuntime enqueues onto and
// the risk-dispatch worker drains, implementing strategyruntime.IntentSink.
type intentQueue struct {
	ch     chan intents.OrderIntent
	logger *slog.Logger
}

func newIntentQueue(capacity int, logger *slog.Logger) *intentQueue {
	return &intentQueue{ch: make(chan intents.OrderIntent, capacity), logger: logger}
}

// Enqueue implements strategyruntime.IntentSink. A full queue drops the
// intent rather than blocking the strategy dispatch loop.
func (q *intentQueue) Enqueue(i intents.OrderIntent) {
	select {
	case q.ch <- i:
	default:
		q.logger.Warn("intent queue full, dropping intent", "strategy", i.StrategyID, "symbol", i.Symbol)
	}
}

// orderDispatcher is the narrow OrderAdapter capability the risk
// dispatch worker depends on. *gateway.Adapter implements this.
type orderDispatcher interface {
	Dispatch(ctx context.Context, cmd *intents.OrderCommand) error
}

// riskDispatcher drains the strategy-emitted intent queue, validates
// each intent through the risk engine, and forwards approved commands
// to the order adapter: the single exit path from the risk stage to the
// broker.
type riskDispatcher struct {
	queue   *intentQueue
	engine  *risk.Engine
	guard   *stormguard.Guard
	adapter orderDispatcher
	logger  *slog.Logger
}

func newRiskDispatcher(queue *intentQueue, engine *risk.Engine, guard *stormguard.Guard, adapter orderDispatcher, logger *slog.Logger) *riskDispatcher {
	return &riskDispatcher{queue: queue, engine: engine, guard: guard, adapter: adapter, logger: logger.With("component", "risk-dispatcher")}
}

// Run drains the intent queue until ctx is cancelled.
func (d *riskDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-d.queue.ch:
			cmd, rejection := d.engine.Validate(intent, d.guard.State().String())
			if rejection != nil {
				d.logger.Warn("intent rejected by risk engine", "strategy", rejection.Intent.StrategyID, "reason", rejection.Reason)
				continue
			}
			if err := d.adapter.Dispatch(ctx, cmd); err != nil {
				d.logger.Error("order dispatch failed", "strategy", intent.StrategyID, "error", err)
			}
		}
	}
}

// brokerPositionAdapter converts the broker's descaled-float Position
// view into reconciliation.BrokerPosition, keeping
// internal/reconciliation free of the broker package's vocabulary.
type brokerPositionAdapter struct {
	fetcher broker.PositionFetcher
}

func (a *brokerPositionAdapter) FetchPositions(ctx context.Context) ([]reconciliation.BrokerPosition, error) {
	positions, err := a.fetcher.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reconciliation.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, reconciliation.BrokerPosition{
			AccountID:  p.AccountID,
			StrategyID: p.StrategyID,
			Symbol:     p.Symbol,
			NetQty:     p.NetQty,
		})
	}
	return out, nil
}

// strategyPositionView wraps position.Store as the read-only
// strategyruntime/examples.PositionView, scoped to one (account,
// strategy) pair so a strategy can only see its own inventory.
type strategyPositionView struct {
	store      *position.Store
	accountID  string
	strategyID string
}

func (v *strategyPositionView) NetQty(symbol string) int64 {
	pos, ok := v.store.Snapshot(position.Key{AccountID: v.accountID, StrategyID: v.strategyID, Symbol: symbol})
	if !ok {
		return 0
	}
	return pos.NetQty
}

// statusProvider adapts the live components into api.StatusProvider.
type statusProvider struct {
	guard  *stormguard.Guard
	policy *gatewaypolicy.Policy
	b      *bus.Bus
	store  *position.Store
}

func (s *statusProvider) StormGuardState() string   { return s.guard.State().String() }
func (s *statusProvider) GatewayPolicyMode() string { return s.policy.Mode().String() }
func (s *statusProvider) BusOverflowTotal() uint64  { return s.b.OverflowTotal() }

func (s *statusProvider) Positions() []api.PositionView {
	snapshots := s.store.AllSnapshots()
	out := make([]api.PositionView, 0, len(snapshots))
	for k, p := range snapshots {
		out = append(out, api.PositionView{
			AccountID:   k.AccountID,
			StrategyID:  k.StrategyID,
			Symbol:      k.Symbol,
			NetQty:      p.NetQty,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
		})
	}
	return out
}

// rawOrderFrame/rawDealFrame are the wire DTOs decoded from the
// execution feed's JSON payloads before conversion to execrouter's Raw
// types, which model the decoded shape rather than the wire shape and
// so carry no JSON tags of their own.
type rawOrderFrame struct {
	OrdNo        string `json:"ord_no"`
	SeqNo        string `json:"seq_no"`
	Status       string `json:"status"`
	ContractCode string `json:"contract_code"`
	Action       string `json:"action"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	FilledQty    int64  `json:"filled_qty"`
	Ts           int64  `json:"ts"`
}

type rawDealFrame struct {
	FillID       string `json:"fill_id"`
	OrdNo        string `json:"ord_no"`
	AccountID    string `json:"account_id"`
	ContractCode string `json:"contract_code"`
	Action       string `json:"action"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	Fee          string `json:"fee"`
	Tax          string `json:"tax"`
	Ts           int64  `json:"ts"`
}

func decodeRawOrder(data json.RawMessage) (execrouter.RawOrderReport, error) {
	var f rawOrderFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return execrouter.RawOrderReport{}, err
	}
	return execrouter.RawOrderReport{
		OrdNo:        f.OrdNo,
		SeqNo:        f.SeqNo,
		Status:       f.Status,
		ContractCode: f.ContractCode,
		Action:       f.Action,
		Price:        f.Price,
		Quantity:     f.Quantity,
		FilledQty:    f.FilledQty,
		TsRaw:        f.Ts,
	}, nil
}

func decodeRawDeal(data json.RawMessage) (execrouter.RawDeal, error) {
	var f rawDealFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return execrouter.RawDeal{}, err
	}
	return execrouter.RawDeal{
		FillID:       f.FillID,
		OrdNo:        f.OrdNo,
		AccountID:    f.AccountID,
		ContractCode: f.ContractCode,
		Action:       f.Action,
		Price:        f.Price,
		Quantity:     f.Quantity,
		Fee:          f.Fee,
		Tax:          f.Tax,
		TsRaw:        f.Ts,
	}, nil
}

// runExecFeedBridge drains an ExecutionFeed's order/deal channels into the
// ExecutionRouter until ctx is cancelled.
func runExecFeedBridge(ctx context.Context, feed *broker.ExecutionFeed, router *execrouter.Router, logger *slog.Logger) {
	orders := feed.Orders()
	deals := feed.Deals()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-orders:
			raw, err := decodeRawOrder(data)
			if err != nil {
				logger.Warn("malformed order frame", "error", err)
				continue
			}
			router.HandleOrder(raw)
		case data := <-deals:
			raw, err := decodeRawDeal(data)
			if err != nil {
				logger.Warn("malformed deal frame", "error", err)
				continue
			}
			router.HandleDeal(raw)
		}
	}
}

// rawTickFrame/rawQuoteFrame are the wire DTOs decoded from the market
// feed's JSON payloads ({code, ts, close|last_price, volume} for trade
// ticks, {code, ts, bid_price[], bid_volume[], ask_price[],
// ask_volume[]} for quotes) before conversion to
// normalizer.RawTick/RawBidAsk.
type rawTickFrame struct {
	Code        string `json:"code"`
	Ts          int64  `json:"ts"`
	Close       string `json:"close"`
	LastPrice   string `json:"last_price"`
	Volume      int64  `json:"volume"`
	TotalVolume int64  `json:"total_volume"`
	BidVolume   int64  `json:"bid_side_total_vol"`
	AskVolume   int64  `json:"ask_side_total_vol"`
	IsSimtrade  bool   `json:"is_simtrade"`
	IsOddLot    bool   `json:"is_odd_lot"`
}

type rawQuoteFrame struct {
	Code       string    `json:"code"`
	Ts         int64     `json:"ts"`
	BidPrice   []string  `json:"bid_price"`
	BidVolume  []int64   `json:"bid_volume"`
	AskPrice   []string  `json:"ask_price"`
	AskVolume  []int64   `json:"ask_volume"`
	IsSnapshot bool      `json:"is_snapshot"`
}

func decodeRawTick(data json.RawMessage) (normalizer.RawTick, error) {
	var f rawTickFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return normalizer.RawTick{}, err
	}
	price := f.Close
	if price == "" {
		price = f.LastPrice
	}
	return normalizer.RawTick{
		Symbol:      f.Code,
		TsRaw:       f.Ts,
		Price:       price,
		Volume:      f.Volume,
		TotalVolume: f.TotalVolume,
		BidVol:      f.BidVolume,
		AskVol:      f.AskVolume,
		IsSimtrade:  f.IsSimtrade,
		IsOddLot:    f.IsOddLot,
	}, nil
}

func decodeRawQuote(data json.RawMessage) (normalizer.RawBidAsk, error) {
	var f rawQuoteFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return normalizer.RawBidAsk{}, err
	}
	n := len(f.BidPrice)
	if len(f.BidVolume) < n {
		n = len(f.BidVolume)
	}
	bids := make([]normalizer.RawLevel, n)
	for i := 0; i < n; i++ {
		bids[i] = normalizer.RawLevel{Price: f.BidPrice[i], Volume: f.BidVolume[i]}
	}
	m := len(f.AskPrice)
	if len(f.AskVolume) < m {
		m = len(f.AskVolume)
	}
	asks := make([]normalizer.RawLevel, m)
	for i := 0; i < m; i++ {
		asks[i] = normalizer.RawLevel{Price: f.AskPrice[i], Volume: f.AskVolume[i]}
	}
	return normalizer.RawBidAsk{
		Symbol:     f.Code,
		TsRaw:      f.Ts,
		Bids:       bids,
		Asks:       asks,
		IsSnapshot: f.IsSnapshot,
	}, nil
}

// runMarketFeedBridge drains a MarketFeed's tick/quote channels through
// the normalizer into book state, then publishes the normalized event
// onto the bus for the strategy runtime and the recorder bridge to
// consume.
func runMarketFeedBridge(ctx context.Context, feed *broker.MarketFeed, norm *normalizer.Normalizer, lobEngine *lob.Engine, ringBus *bus.Bus, logger *slog.Logger) {
	ticks := feed.Ticks()
	quotes := feed.Quotes()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ticks:
			raw, err := decodeRawTick(data)
			if err != nil {
				logger.Warn("malformed tick frame", "error", err)
				continue
			}
			ev, ok := norm.NormalizeTick(raw)
			if !ok {
				continue
			}
			lobEngine.ApplyTick(ev)
			ringBus.Publish(ev)
		case data := <-quotes:
			raw, err := decodeRawQuote(data)
			if err != nil {
				logger.Warn("malformed quote frame", "error", err)
				continue
			}
			ev, ok := norm.NormalizeBidAsk(raw)
			if !ok {
				continue
			}
			lobEngine.ApplyBidAsk(ev)
			// Derived stats ride the bus right behind the book update so
			// OnStats strategies always see numbers consistent with the
			// book event that produced them.
			ringBus.PublishMany(ev, lobEngine.GetBook(ev.Symbol).Stats(ev.Meta.LocalTsNs))
		}
	}
}
